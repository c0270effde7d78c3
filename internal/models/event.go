package models

import (
	"strconv"
	"time"
)

// AccessEvent is the ephemeral payload produced once per successful redirect
// and consumed by the stats pipeline. It travels as a flat string map inside
// a queue message.
type AccessEvent struct {
	ShortURL  string    `json:"short_url"`
	Visitor   string    `json:"visitor"`
	IP        string    `json:"ip"`
	OS        string    `json:"os"`
	Browser   string    `json:"browser"`
	Device    string    `json:"device"`
	EventTime time.Time `json:"event_time"`
}

// Values flattens the event into the field map appended to the queue.
func (e *AccessEvent) Values() map[string]interface{} {
	return map[string]interface{}{
		"short_url":  e.ShortURL,
		"visitor":    e.Visitor,
		"ip":         e.IP,
		"os":         e.OS,
		"browser":    e.Browser,
		"device":     e.Device,
		"event_time": strconv.FormatInt(e.EventTime.UnixMilli(), 10),
	}
}

// AccessEventFromValues rebuilds an event from queue message fields. Missing
// or malformed fields degrade to zero values rather than failing the batch.
func AccessEventFromValues(values map[string]interface{}) *AccessEvent {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	ev := &AccessEvent{
		ShortURL: str("short_url"),
		Visitor:  str("visitor"),
		IP:       str("ip"),
		OS:       str("os"),
		Browser:  str("browser"),
		Device:   str("device"),
	}

	if ms, err := strconv.ParseInt(str("event_time"), 10, 64); err == nil {
		ev.EventTime = time.UnixMilli(ms)
	} else {
		ev.EventTime = time.Now()
	}

	return ev
}
