package room

import "strings"

// PlayerIndex returns the position of the player with the given id, or -1.
func (r *Room) PlayerIndex(id string) int {
	for i := range r.Players {
		if r.Players[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Room) Player(id string) *Player {
	if i := r.PlayerIndex(id); i >= 0 {
		return &r.Players[i]
	}
	return nil
}

// PlayerByName matches case-insensitively.
func (r *Room) PlayerByName(name string) int {
	for i := range r.Players {
		if strings.EqualFold(r.Players[i].Name, name) {
			return i
		}
	}
	return -1
}

// ActiveIndexes lists, in join order, the positions in Players of connected
// players with role "player". CurrentPlayerIndex indexes this list.
func (r *Room) ActiveIndexes() []int {
	idx := make([]int, 0, len(r.Players))
	for i := range r.Players {
		if r.Players[i].Role == RolePlayer && r.Players[i].Connected {
			idx = append(idx, i)
		}
	}
	return idx
}

func (r *Room) ActiveCount() int {
	return len(r.ActiveIndexes())
}

// TurnPlayer is the player whose turn it is, or nil when nobody is eligible.
func (r *Room) TurnPlayer() *Player {
	active := r.ActiveIndexes()
	if len(active) == 0 || r.CurrentPlayerIndex < 0 || r.CurrentPlayerIndex >= len(active) {
		return nil
	}
	return &r.Players[active[r.CurrentPlayerIndex]]
}

func (r *Room) TurnPlayerID() string {
	if p := r.TurnPlayer(); p != nil {
		return p.ID
	}
	return ""
}

// RetargetTurn recomputes CurrentPlayerIndex after the connected subset
// changed: it follows the player identified by id when still eligible and
// otherwise keeps the old position wrapped into range.
func (r *Room) RetargetTurn(id string) {
	active := r.ActiveIndexes()
	if len(active) == 0 {
		r.CurrentPlayerIndex = 0
		return
	}

	for pos, i := range active {
		if r.Players[i].ID == id {
			r.CurrentPlayerIndex = pos
			return
		}
	}

	if r.CurrentPlayerIndex < 0 {
		r.CurrentPlayerIndex = 0
	}
	r.CurrentPlayerIndex %= len(active)
}

// ConnectedHost returns the connected host, if any.
func (r *Room) ConnectedHost() *Player {
	for i := range r.Players {
		if r.Players[i].Role == RoleHost && r.Players[i].Connected {
			return &r.Players[i]
		}
	}
	return nil
}

func (r *Room) HostIndex() int {
	for i := range r.Players {
		if r.Players[i].Role == RoleHost {
			return i
		}
	}
	return -1
}

func (r *Room) IsBanned(name string) bool {
	for _, b := range r.BannedPlayers {
		if strings.EqualFold(b, name) {
			return true
		}
	}
	return false
}

// RemovePlayer drops the player and returns whether it was present.
func (r *Room) RemovePlayer(id string) bool {
	i := r.PlayerIndex(id)
	if i < 0 {
		return false
	}
	r.Players = append(r.Players[:i], r.Players[i+1:]...)
	return true
}

func Contains(set []string, letter string) bool {
	for _, l := range set {
		if l == letter {
			return true
		}
	}
	return false
}
