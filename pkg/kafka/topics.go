package kafka

// TopicRegistry defines all Kafka topics used in the system
type TopicRegistry struct {
	LocationUpdated string
	GeofenceEntered string
	GeofenceExited  string
	TripStarted     string
	TripClosed      string
	DeviceRejected  string
}

// Topics is the global topic registry
var Topics = TopicRegistry{
	LocationUpdated: "tracking.location.updated",
	GeofenceEntered: "tracking.geofence.entered",
	GeofenceExited:  "tracking.geofence.exited",
	TripStarted:     "tracking.trip.started",
	TripClosed:      "tracking.trip.closed",
	DeviceRejected:  "tracking.device.rejected",
}

// GetAllTopics returns a list of all topic names
func (t *TopicRegistry) GetAllTopics() []string {
	return []string{
		t.LocationUpdated,
		t.GeofenceEntered,
		t.GeofenceExited,
		t.TripStarted,
		t.TripClosed,
		t.DeviceRejected,
	}
}
