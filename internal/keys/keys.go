package keys

// Package keys centralizes Redis key construction.
// The layout follows python-rq so that a monitor can sit next to existing workers.

const (
	prefix = "rq:"

	// Queues is the SET of every known queue key.
	Queues = prefix + "queues"
	// Workers is the SET of every registered worker key.
	Workers = prefix + "workers"

	QueuePrefix  = prefix + "queue:"
	JobPrefix    = prefix + "job:"
	WorkerPrefix = prefix + "worker:"
)

func Queue(q string) string          { return QueuePrefix + q }
func Job(id string) string           { return JobPrefix + id }
func Dependents(id string) string    { return JobPrefix + id + ":dependents" }
func Worker(name string) string      { return WorkerPrefix + name }
func WorkersByQueue(q string) string { return prefix + "workers:" + q }

func Started(q string) string   { return prefix + "wip:" + q }
func Finished(q string) string  { return prefix + "finished:" + q }
func Failed(q string) string    { return prefix + "failed:" + q }
func Deferred(q string) string  { return prefix + "deferred:" + q }
func Scheduled(q string) string { return prefix + "scheduled:" + q }

// QueueSet holds all precomputed keys for a queue name to avoid repeated concatenations.
type QueueSet struct {
	Name      string
	Waiting   string
	Started   string
	Finished  string
	Failed    string
	Deferred  string
	Scheduled string
}

// For returns a set of precomputed keys for the provided queue.
func For(q string) QueueSet {
	return QueueSet{
		Name:      q,
		Waiting:   QueuePrefix + q,
		Started:   prefix + "wip:" + q,
		Finished:  prefix + "finished:" + q,
		Failed:    prefix + "failed:" + q,
		Deferred:  prefix + "deferred:" + q,
		Scheduled: prefix + "scheduled:" + q,
	}
}

// QueueName strips the queue prefix from a queue key. Bare names are returned unchanged.
func QueueName(key string) string {
	if len(key) > len(QueuePrefix) && key[:len(QueuePrefix)] == QueuePrefix {
		return key[len(QueuePrefix):]
	}
	return key
}

// WorkerName strips the worker prefix from a worker key. Bare names are returned unchanged.
func WorkerName(key string) string {
	if len(key) > len(WorkerPrefix) && key[:len(WorkerPrefix)] == WorkerPrefix {
		return key[len(WorkerPrefix):]
	}
	return key
}
