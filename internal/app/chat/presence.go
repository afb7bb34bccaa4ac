package chat

import "slices"

// Presence counts live connections per identity. An identity is online while its count
// is positive. Owned by the hub loop.
type Presence struct {
	conns map[string]int
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[string]int)}
}

// Connect records a new connection and reports whether username just came online.
func (p *Presence) Connect(username string) bool {
	p.conns[username]++
	return p.conns[username] == 1
}

// Disconnect records a closed connection and reports whether username just went offline.
func (p *Presence) Disconnect(username string) bool {
	n, ok := p.conns[username]
	if !ok {
		return false
	}

	if n <= 1 {
		delete(p.conns, username)
		return true
	}

	p.conns[username] = n - 1
	return false
}

func (p *Presence) IsOnline(username string) bool {
	return p.conns[username] > 0
}

// Online returns the online identities sorted by name.
func (p *Presence) Online() []string {
	names := make([]string, 0, len(p.conns))
	for name := range p.conns {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
