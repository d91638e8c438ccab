package id

import (
	"testing"
	"time"
)

func TestSessionIDFormat(t *testing.T) {
	sid := NewSessionID()
	if !IsValid(sid.String(), SessionPrefix) {
		t.Errorf("invalid session id %q", sid)
	}
	if IsValid(sid.String(), RequestPrefix) {
		t.Errorf("session id %q validated under request prefix", sid)
	}
}

func TestRequestIDFormat(t *testing.T) {
	rid := NewRequestID()
	if !IsValid(rid.String(), RequestPrefix) {
		t.Errorf("invalid request id %q", rid)
	}
}

func TestSessionIDsSortInCreationOrder(t *testing.T) {
	// Monotonic entropy keeps same-millisecond ids ordered.
	prev := NewSessionID()
	for i := 0; i < 1000; i++ {
		next := NewSessionID()
		if next <= prev {
			t.Fatalf("id %q not greater than predecessor %q", next, prev)
		}
		prev = next
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	sid := NewSessionID()
	after := time.Now().Add(time.Second)

	ts, err := Timestamp(sid.String(), SessionPrefix)
	if err != nil {
		t.Fatalf("Timestamp failed: %v", err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp %v outside [%v, %v]", ts, before, after)
	}

	if _, err := Timestamp(sid.String(), RequestPrefix); err == nil {
		t.Error("wrong prefix accepted")
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "sess_", "sess_notaulid", "01ARZ3NDEKTSV4RRFFQ69G5FAV"} {
		if IsValid(bad, SessionPrefix) {
			t.Errorf("accepted %q", bad)
		}
	}
}
