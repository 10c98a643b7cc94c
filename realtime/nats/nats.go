// Package nats implements querycache.ChannelFactory over NATS core
// subscriptions. Each resource maps to one subject
// ("<prefix>.<resource>") carrying JSON-encoded change events.
package nats

import (
	"encoding/json"
	"errors"

	upstream "github.com/nats-io/nats.go"

	"github.com/unkn0wn-root/querycache"
)

var ErrNilConn = errors.New("nats factory: nil connection")

type Factory struct {
	conn   *upstream.Conn
	prefix string
	log    querycache.Logger
}

var _ querycache.ChannelFactory = (*Factory)(nil)

type Config struct {
	Conn *upstream.Conn

	// SubjectPrefix namespaces the change subjects; "" => "changes".
	SubjectPrefix string

	Logger querycache.Logger
}

func New(cfg Config) (*Factory, error) {
	if cfg.Conn == nil {
		return nil, ErrNilConn
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "changes"
	}
	log := cfg.Logger
	if log == nil {
		log = querycache.NopLogger{}
	}
	return &Factory{conn: cfg.Conn, prefix: prefix, log: log}, nil
}

func (f *Factory) subject(resource string) string { return f.prefix + "." + resource }

// Subscribe opens one subscription for resource. Undecodable messages are
// dropped with a log line; delivery stops when the returned channel closes.
func (f *Factory) Subscribe(resource string, fn func(querycache.ChangeEvent)) (querycache.Channel, error) {
	subj := f.subject(resource)
	sub, err := f.conn.Subscribe(subj, func(m *upstream.Msg) {
		var ev querycache.ChangeEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			f.log.Warn("dropped undecodable change event", querycache.Fields{"subject": subj, "err": err})
			return
		}
		if ev.Resource == "" {
			ev.Resource = resource
		}
		fn(ev)
	})
	if err != nil {
		return nil, err
	}
	return &channel{sub: sub}, nil
}

type channel struct {
	sub *upstream.Subscription
}

func (c *channel) Close() error { return c.sub.Unsubscribe() }
