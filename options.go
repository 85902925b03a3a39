package rqmon

import "time"

type options struct {
	id          string
	description string
	ttl         *int64
	resultTTL   *int64
	failureTTL  *int64
	timeout     *int64
	dependsOn   string
	meta        map[string]any
	atFront     bool
}

// Option is a function that configures job behavior during Enqueue.
type Option func(*options)

func seconds(d time.Duration) *int64 {
	s := int64(d / time.Second)
	return &s
}

// JobID sets a custom ID for the job. If not provided, a random UUID will be generated.
func JobID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// Description sets the human readable call description shown in listings.
func Description(s string) Option {
	return func(o *options) {
		o.description = s
	}
}

// TTL sets how long the job may wait in the queue before it is discarded.
func TTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = seconds(d)
	}
}

// ResultTTL sets how long the job is kept in the finished registry.
// Zero drops it immediately; a negative value keeps it forever.
func ResultTTL(d time.Duration) Option {
	return func(o *options) {
		o.resultTTL = seconds(d)
	}
}

// FailureTTL sets how long the job is kept in the failed registry.
func FailureTTL(d time.Duration) Option {
	return func(o *options) {
		o.failureTTL = seconds(d)
	}
}

// Timeout sets the maximum run time a worker grants the job.
func Timeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = seconds(d)
	}
}

// DependsOn records a dependency; the job is parked in the deferred registry
// instead of the waiting list.
func DependsOn(jobID string) Option {
	return func(o *options) {
		o.dependsOn = jobID
	}
}

// Meta attaches arbitrary metadata to the job.
func Meta(m map[string]any) Option {
	return func(o *options) {
		o.meta = m
	}
}

// AtFront pushes the job to the head of the waiting list.
func AtFront() Option {
	return func(o *options) {
		o.atFront = true
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for non-fatal events. Defaults to a no-op logger.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEncoder replaces the encoder used for job args and meta.
func WithEncoder(e Encoder) ClientOption {
	return func(c *Client) {
		if e != nil {
			c.encoder = e
		}
	}
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
