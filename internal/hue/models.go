package hue

// CLIP v2 resources used for entertainment streaming. Only the fields this
// service reads are modelled.

// ResourceRef points at another resource.
type ResourceRef struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

// EntertainmentConfigurationResource is an entertainment_configuration (v2 API).
type EntertainmentConfigurationResource struct {
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	ConfigurationType string                 `json:"configuration_type"`
	Status            string                 `json:"status"`
	ActiveStreamer    *ResourceRef           `json:"active_streamer,omitempty"`
	Channels          []EntertainmentChannel `json:"channels"`
	LightServices     []ResourceRef          `json:"light_services"`
}

// EntertainmentChannel is one channel of an entertainment configuration.
type EntertainmentChannel struct {
	ChannelID uint8 `json:"channel_id"`
	Position  struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		Z float64 `json:"z"`
	} `json:"position"`
	Members []struct {
		Service ResourceRef `json:"service"`
		Index   int         `json:"index"`
	} `json:"members"`
}

// DeviceResource is a physical device (v2 API).
type DeviceResource struct {
	ID       string `json:"id"`
	Metadata struct {
		Name      string `json:"name"`
		Archetype string `json:"archetype"`
	} `json:"metadata"`
	Services []ResourceRef `json:"services"`
}

// Streaming status values of an entertainment configuration.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

type apiError struct {
	Description string `json:"description"`
}

type listResponse[T any] struct {
	Errors []apiError `json:"errors"`
	Data   []T        `json:"data"`
}
