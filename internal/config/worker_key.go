package config

type WorkerKeyStruct struct {
	DispatchNotificationsQueue string
	PersistProctorEventsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	DispatchNotificationsQueue: "dispatch_notifications_queue",
	PersistProctorEventsQueue:  "persist_proctor_events_queue",
}
