package heartbeat

import (
	"encoding/json"
	"net"
	"time"
)

type pingPayload struct {
	MDNS string `json:"mdns"`
	RSSI string `json:"rssi"`
	Mem  string `json:"mem"`
}

// PingRemote sends a best-effort UDP datagram carrying station details to
// a remote liveness collector, per spec.md §4.4/§6.3. Failures (DNS, dial,
// write) are silent -- this is liveness telemetry, not a reliability
// primitive.
func (s *Supervisor) PingRemote(addr string, details StationDetails) {
	conn, err := net.DialTimeout("udp", addr, 500*time.Millisecond)
	if err != nil {
		return
	}
	defer conn.Close()

	body, err := json.Marshal(pingPayload{MDNS: details.MDNS, RSSI: details.RSSI, Mem: details.Mem})
	if err != nil {
		return
	}
	_, _ = conn.Write(body)
}
