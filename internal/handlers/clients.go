package handlers

import "zigbee-endpoints/internal/zigbee"

// Client handlers wrap output clusters: remotes and switches that send
// commands. Binding makes the device send them to the coordinator.

type OnOffClient struct{ *Base }

func NewOnOffClient(c *zigbee.Cluster, owner Owner) ClusterHandler {
	return &OnOffClient{NewBase(c, owner)}
}

type LevelClient struct{ *Base }

func NewLevelClient(c *zigbee.Cluster, owner Owner) ClusterHandler {
	return &LevelClient{NewBase(c, owner)}
}

type ScenesClient struct{ *Base }

func NewScenesClient(c *zigbee.Cluster, owner Owner) ClusterHandler {
	return &ScenesClient{NewBase(c, owner)}
}

// OTAClient marks a device that can request firmware images. Image
// requests are unsolicited, so nothing is bound.
type OTAClient struct{ *Base }

func NewOTAClient(c *zigbee.Cluster, owner Owner) ClusterHandler {
	b := NewBase(c, owner)
	b.BindCluster = false
	return &OTAClient{b}
}
