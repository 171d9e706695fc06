package endpoint

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SignatureData describes what an endpoint declares. Cluster ids are sorted
// numerically so the fingerprint does not depend on discovery order.
type SignatureData struct {
	ProfileID      string   `json:"profile_id"`
	DeviceType     string   `json:"device_type"`
	InputClusters  []string `json:"input_clusters"`
	OutputClusters []string `json:"output_clusters"`
}

// Signature is an endpoint id paired with its SignatureData. It encodes to
// JSON as a two element array.
type Signature struct {
	ID   uint8
	Data SignatureData
}

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.ID, s.Data})
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if err := json.Unmarshal(raw[0], &s.ID); err != nil {
		return fmt.Errorf("decode signature id: %w", err)
	}
	if err := json.Unmarshal(raw[1], &s.Data); err != nil {
		return fmt.Errorf("decode signature data: %w", err)
	}
	return nil
}

// Signature returns the endpoint's capability fingerprint.
func (e *Endpoint) Signature() Signature {
	in := make([]uint16, 0, len(e.src.InClusters))
	for id := range e.src.InClusters {
		in = append(in, id)
	}
	out := make([]uint16, 0, len(e.src.OutClusters))
	for id := range e.src.OutClusters {
		out = append(out, id)
	}
	return Signature{
		ID: e.src.ID,
		Data: SignatureData{
			ProfileID:      optionalHex(e.src.ProfileID),
			DeviceType:     optionalHex(e.src.DeviceType),
			InputClusters:  hexList(in),
			OutputClusters: hexList(out),
		},
	}
}

func optionalHex(v *uint16) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("0x%04x", *v)
}

func hexList(ids []uint16) []string {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = fmt.Sprintf("0x%04x", id)
	}
	return out
}
