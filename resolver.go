package webserv

import "fmt"

// resolveServer picks the `ServerConfig` serving a request accepted on the
// local address addr with the host name host (already stripped of any
// ":port" suffix).
//
// The candidate set is every server listing an endpoint equal to the addr;
// when that is empty, servers whose endpoint port equals the addr's port are
// considered instead. Among multiple candidates the first whose server names
// contain the host wins, otherwise the first candidate in insertion order.
func resolveServer(scs []*ServerConfig, addr Socket, host string) (*ServerConfig, error) {
	var candidates []*ServerConfig
	for _, sc := range scs {
		for _, l := range sc.Listen {
			if l == addr {
				candidates = append(candidates, sc)
				break
			}
		}
	}

	if len(candidates) == 0 {
		for _, sc := range scs {
			for _, l := range sc.Listen {
				if l.Port == addr.Port {
					candidates = append(candidates, sc)
					break
				}
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf(
			"webserv: no server for address %s",
			addr,
		)
	}

	if len(candidates) > 1 {
		for _, sc := range candidates {
			if stringSliceContains(sc.ServerNames, host) {
				return sc, nil
			}
		}
	}

	return candidates[0], nil
}

// stringSliceContains reports whether the ss contains the s.
func stringSliceContains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}

	return false
}
