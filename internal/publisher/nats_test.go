package publisher

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-wait-tracker/internal/model"
	"bus-wait-tracker/internal/waitstate"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "bus.trips.bus-12_2026-03-02", TripSubject("bus", "bus-12_2026-03-02"))
	assert.Equal(t, "bus.trips.t.stops.elm_3rd", StopStateSubject("bus", "t", "elm.3rd"))
	assert.Equal(t, "bus.trips.t.stops.*", StopStateSubject("bus", "t", "*"))
	assert.Equal(t, "_.trips.a_b.stops.x_y", StopStateSubject("", "a b", "x>y"))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "Main_St_", subjectToken(" Main St* "))
	assert.Equal(t, "_", subjectToken("   "))
	assert.Equal(t, "a_b_c", subjectToken("a/b.c"))
}

func TestStopStateMessageIsFlat(t *testing.T) {
	elapsed := int64(42)
	msg := StopStateMessage{
		TripID:      "t",
		EvaluatedAt: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		StopState: waitstate.StopState{
			StopID: "S", Name: "Stop", State: waitstate.StandardWait,
			ElapsedSeconds: &elapsed, TotalPassengers: 2,
		},
	}
	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(b, &flat))
	assert.Equal(t, "t", flat["tripId"])
	assert.Equal(t, "S", flat["stopId"])
	assert.Equal(t, "STANDARD_WAIT", flat["state"])
	assert.EqualValues(t, 42, flat["elapsedSeconds"])

	var back StopStateMessage
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, msg, back)
}

// fakeNATSServer speaks just enough of the NATS client protocol to accept one
// connection, answer pings and report the subject of every PUB it receives.
func fakeNATSServer(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	subjects := make(chan string, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.WriteString(conn, `INFO {"server_id":"fake","version":"2.10.0","proto":1,"max_payload":1048576}`+"\r\n")
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "PING"):
				_, _ = io.WriteString(conn, "PONG\r\n")
			case strings.HasPrefix(line, "PUB "):
				f := strings.Fields(line)
				n, err := strconv.Atoi(f[len(f)-1])
				if err != nil {
					return
				}
				if _, err := io.ReadFull(r, make([]byte, n+2)); err != nil {
					return
				}
				subjects <- f[1]
			}
		}
	}()
	return "nats://" + ln.Addr().String(), subjects
}

func TestCloseFlushesPendingPublishes(t *testing.T) {
	url, subjects := fakeNATSServer(t)
	p, err := NewNATSPublisher(url, "bus", false, nil)
	require.NoError(t, err)

	trip := model.Trip{ID: "bus-12_2026-03-02", BusID: "bus-12"}
	require.NoError(t, p.PublishTrip(trip))
	p.Close()
	assert.True(t, p.nc.IsClosed())

	select {
	case got := <-subjects:
		assert.Equal(t, TripSubject("bus", trip.ID), got)
	case <-time.After(2 * time.Second):
		t.Fatal("publish buffered before Close never reached the server")
	}
}
