package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/waitstate"
)

// drainTimeout bounds how long Close waits for buffered publishes to flush.
const drainTimeout = 10 * time.Second

type NATSPublisher struct {
	nc          *nats.Conn
	closed      chan struct{}
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	closed := make(chan struct{})
	nc, err := nats.Connect(url,
		nats.Name("bus-wait-tracker"),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
			close(closed)
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, closed: closed, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m}, nil
}

// Close drains the connection so buffered publishes reach the server, then
// waits for the drain to finish. The connection closes itself when done.
func (p *NATSPublisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		log.Printf("nats drain: %v", err)
		p.nc.Close()
		return
	}
	select {
	case <-p.closed:
	case <-time.After(drainTimeout + time.Second):
		log.Printf("nats drain did not finish in %s", drainTimeout)
	}
}

type StopStateMessage struct {
	TripID      string    `json:"tripId"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
	waitstate.StopState
}

func (p *NATSPublisher) PublishTrip(t model.Trip) error {
	return p.publish(TripSubject(p.prefix, t.ID), t)
}

func (p *NATSPublisher) PublishWaitRequest(w model.WaitRequest) error {
	return p.publish(fmt.Sprintf("%s.waits.%s", TripSubject(p.prefix, w.TripID), subjectToken(w.StopID)), w)
}

func (p *NATSPublisher) PublishAbsence(a model.Absence) error {
	return p.publish(fmt.Sprintf("%s.absences.%s", TripSubject(p.prefix, a.TripID), subjectToken(a.StopID)), a)
}

func (p *NATSPublisher) PublishStopState(tripID string, at time.Time, st waitstate.StopState) error {
	msg := StopStateMessage{TripID: tripID, EvaluatedAt: at, StopState: st}
	return p.publish(StopStateSubject(p.prefix, tripID, st.StopID), msg)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func TripSubject(prefix, tripID string) string {
	return fmt.Sprintf("%s.trips.%s", subjectToken(prefix), subjectToken(tripID))
}

// StopStateSubject is the subject for one stop's state; pass "*" as stopID to
// match every stop of the trip.
func StopStateSubject(prefix, tripID, stopID string) string {
	if stopID != "*" {
		stopID = subjectToken(stopID)
	}
	return fmt.Sprintf("%s.stops.%s", TripSubject(prefix, tripID), stopID)
}

// SubscribeStopStates delivers every stop state published for tripID.
func SubscribeStopStates(nc *nats.Conn, prefix, tripID string, fn func(StopStateMessage)) (*nats.Subscription, error) {
	return nc.Subscribe(StopStateSubject(prefix, tripID, "*"), func(m *nats.Msg) {
		var msg StopStateMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("nats decode subject=%s: %v", m.Subject, err)
			return
		}
		fn(msg)
	})
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
