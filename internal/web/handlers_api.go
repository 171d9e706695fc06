package web

import (
	"errors"
	"net/http"
	"sort"

	"zigbee-endpoints/internal/coordinator"
	"zigbee-endpoints/internal/endpoint"
	"zigbee-endpoints/internal/handlers"
	"zigbee-endpoints/internal/store"
)

// deviceView is a stored device record with its live status.
type deviceView struct {
	*store.Device
	Status  string   `json:"status"`
	Battery *float64 `json:"battery,omitempty"`
}

// endpointView describes how the handlers of one endpoint were claimed.
type endpointView struct {
	ID        uint8              `json:"id"`
	UniqueID  string             `json:"unique_id"`
	Signature endpoint.Signature `json:"signature"`
	Claimed   []string           `json:"claimed"`
	Unclaimed []string           `json:"unclaimed"`
	Clients   []string           `json:"clients"`
}

type deviceDetail struct {
	deviceView
	Endpoints []endpointView `json:"live_endpoints"`
}

func (s *Server) view(rec *store.Device) deviceView {
	v := deviceView{Device: rec, Status: "offline"}
	if d, ok := s.coord.Devices().Device(rec.IEEEAddress); ok {
		v.Status = d.Status().String()
		if pct, ok := d.BatteryPercent(); ok {
			v.Battery = &pct
		}
	} else if self := s.coord.Self(); rec.IsCoordinator && self != nil {
		v.Status = self.Status().String()
	}
	return v
}

func handlerIDs(hs map[string]handlers.ClusterHandler) []string {
	ids := make([]string, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices().ListDevices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	views := make([]deviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.view(dev))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	rec, err := s.coord.Devices().GetDevice(ieee)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "device not found")
		return
	}

	detail := deviceDetail{deviceView: s.view(rec), Endpoints: []endpointView{}}
	if d, ok := s.coord.Devices().Device(ieee); ok {
		for _, ep := range d.Endpoints() {
			ev := endpointView{
				ID:        ep.ID(),
				UniqueID:  ep.UniqueID(),
				Signature: ep.Signature(),
				Claimed:   handlerIDs(ep.ClaimedHandlers()),
				Clients:   handlerIDs(ep.ClientHandlers()),
				Unclaimed: []string{},
			}
			for _, h := range ep.Unclaimed() {
				ev.Unclaimed = append(ev.Unclaimed, h.ID())
			}
			sort.Strings(ev.Unclaimed)
			detail.Endpoints = append(detail.Endpoints, ev)
		}
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	if err := s.coord.Devices().RemoveDevice(ieee); err != nil {
		s.deviceError(w, "delete device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIConfigureDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	if err := s.coord.Devices().ConfigureDevice(r.Context(), ieee); err != nil {
		s.deviceError(w, "configure device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identifyRequest struct {
	Seconds uint16 `json:"seconds"`
}

func (s *Server) handleAPIIdentifyDevice(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	req := identifyRequest{Seconds: 5}
	if r.ContentLength > 0 && !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.Devices().Identify(r.Context(), ieee, req.Seconds); err != nil {
		s.deviceError(w, "identify device", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readAttributesRequest struct {
	Endpoint   uint8    `json:"endpoint"`
	ClusterID  uint16   `json:"cluster_id"`
	Attributes []string `json:"attributes"`
	FromCache  bool     `json:"from_cache"`
}

func (s *Server) handleAPIReadAttributes(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	var req readAttributesRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Attributes) == 0 {
		s.writeError(w, http.StatusBadRequest, "attributes must not be empty")
		return
	}
	if len(req.Attributes) > 50 {
		s.writeError(w, http.StatusBadRequest, "attributes limited to 50")
		return
	}

	res, err := s.coord.Devices().ReadAttributes(r.Context(), ieee, req.Endpoint, req.ClusterID, req.Attributes, req.FromCache)
	if err != nil {
		s.deviceError(w, "read attributes", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type writeAttributeRequest struct {
	Endpoint  uint8       `json:"endpoint"`
	ClusterID uint16      `json:"cluster_id"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
}

func (s *Server) handleAPIWriteAttribute(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	var req writeAttributeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Attribute == "" {
		s.writeError(w, http.StatusBadRequest, "attribute is required")
		return
	}
	if err := s.coord.Devices().WriteAttribute(r.Context(), ieee, req.Endpoint, req.ClusterID, req.Attribute, req.Value); err != nil {
		s.deviceError(w, "write attribute", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendCommandRequest struct {
	Endpoint  uint8  `json:"endpoint"`
	ClusterID uint16 `json:"cluster_id"`
	CommandID uint8  `json:"command_id"`
	Payload   []byte `json:"payload,omitempty"`
}

func (s *Server) handleAPISendCommand(w http.ResponseWriter, r *http.Request) {
	ieee := r.PathValue("ieee")
	var req sendCommandRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Payload) > 128 {
		s.writeError(w, http.StatusBadRequest, "payload limited to 128 bytes")
		return
	}
	if err := s.coord.Devices().SendClusterCommand(r.Context(), ieee, req.Endpoint, req.ClusterID, req.CommandID, req.Payload); err != nil {
		s.deviceError(w, "send command", ieee, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPINetworkInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.NetworkInfo())
}

type permitJoinRequest struct {
	Duration uint8 `json:"duration"`
}

func (s *Server) handleAPIPermitJoin(w http.ResponseWriter, r *http.Request) {
	var req permitJoinRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if err := s.coord.PermitJoin(r.Context(), req.Duration); err != nil {
		s.logger.Error("permit join", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "duration": req.Duration})
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	clusters := s.coord.Catalog().All()
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	s.writeJSON(w, http.StatusOK, clusters)
}

// deviceError maps device operation errors to HTTP statuses.
func (s *Server) deviceError(w http.ResponseWriter, op, ieee string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "device not found")
	case errors.Is(err, coordinator.ErrDeviceNotReady):
		s.writeError(w, http.StatusConflict, "device not ready")
	default:
		s.logger.Error(op, "err", err, "ieee", ieee)
		s.writeError(w, http.StatusBadGateway, err.Error())
	}
}
