package config

type WorkerKeyStruct struct {
	PersistViolationsQueue string
	PersistAnswersQueue    string
	PersistSnapshotsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistViolationsQueue: "persist_violations_queue",
	PersistAnswersQueue:    "persist_answers_queue",
	PersistSnapshotsQueue:  "persist_snapshots_queue",
}
