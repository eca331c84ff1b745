package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "GROUPPLAY_ICE_SERVERS_JSON"

	envStunURLs       = "GROUPPLAY_STUN_URLS"
	envTurnURLs       = "GROUPPLAY_TURN_URLS"
	envTurnUsername   = "GROUPPLAY_TURN_USERNAME"
	envTurnCredential = "GROUPPLAY_TURN_CREDENTIAL"
)

// ICEServers resolves the configured ICE servers for client-side
// PeerConnections. The JSON form wins over the convenience vars. An
// empty configuration is valid: peers on one LAN connect with host
// candidates alone.
func (c Config) ICEServers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ICEServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var out []webrtc.ICEServer
	if urls := splitURLList(c.STUNURLs); len(urls) > 0 {
		out = append(out, webrtc.ICEServer{URLs: urls})
	}
	if urls := splitURLList(c.TURNURLs); len(urls) > 0 {
		server := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(c.TURNUsername),
		}
		if cred := c.TURNCredential; strings.TrimSpace(cred) != "" {
			server.Credential = cred
		}
		if server.Username == "" || server.Credential == nil {
			return nil, fmt.Errorf("%s requires %s and %s", envTurnURLs, envTurnUsername, envTurnCredential)
		}
		out = append(out, server)
	}
	return out, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses the GROUPPLAY_ICE_SERVERS_JSON value, which
// uses the same shape as the browser's RTCConfiguration.iceServers.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, server := range servers {
		urls := make([]string, 0, len(server.URLs))
		for _, url := range server.URLs {
			url = strings.TrimSpace(url)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("iceServers[%d]: no urls", i)
		}

		pcServer := webrtc.ICEServer{
			URLs:     urls,
			Username: strings.TrimSpace(server.Username),
		}
		if strings.TrimSpace(server.Credential) != "" {
			pcServer.Credential = server.Credential
		}

		for _, url := range urls {
			isTURN := strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:")
			if !isTURN && !strings.HasPrefix(url, "stun:") && !strings.HasPrefix(url, "stuns:") {
				return nil, fmt.Errorf("iceServers[%d]: unsupported url scheme in %q", i, url)
			}
			if isTURN && (pcServer.Username == "" || pcServer.Credential == nil) {
				return nil, fmt.Errorf("iceServers[%d]: turn urls require username and credential", i)
			}
		}
		out = append(out, pcServer)
	}
	return out, nil
}

func splitURLList(raw string) []string {
	var out []string
	for _, url := range strings.Split(raw, ",") {
		url = strings.TrimSpace(url)
		if url != "" {
			out = append(out, url)
		}
	}
	return out
}
