package domain

// User is a board participant. Users are configuration, never mutated at
// runtime.
type User struct {
	ID          int64  `json:"id" yaml:"id"`
	DisplayName string `json:"name" yaml:"name"`
	Initials    string `json:"initials" yaml:"initials"`
	Accent      string `json:"accent" yaml:"accent"`
}

// Anonymous is used for intents that carry no actor.
var Anonymous = User{ID: 0, DisplayName: "Someone", Initials: "?", Accent: "#94a3b8"}

// Roster is an immutable set of users.
type Roster struct {
	users []User
	index map[int64]int
}

// NewRoster copies users into a roster. Later duplicates of an id win.
func NewRoster(users []User) Roster {
	r := Roster{users: make([]User, 0, len(users)), index: make(map[int64]int, len(users))}
	for _, u := range users {
		if i, ok := r.index[u.ID]; ok {
			r.users[i] = u
			continue
		}
		r.index[u.ID] = len(r.users)
		r.users = append(r.users, u)
	}
	return r
}

// DefaultRoster returns the built-in participants.
func DefaultRoster() Roster {
	return NewRoster([]User{
		{ID: 1, DisplayName: "Alice Chen", Initials: "AC", Accent: "#22d3ee"},
		{ID: 2, DisplayName: "Bob Smith", Initials: "BS", Accent: "#6366f1"},
		{ID: 3, DisplayName: "Carol Davis", Initials: "CD", Accent: "#38bdf8"},
		{ID: 4, DisplayName: "David Lee", Initials: "DL", Accent: "#818cf8"},
	})
}

func (r Roster) Lookup(id int64) (User, bool) {
	i, ok := r.index[id]
	if !ok {
		return User{}, false
	}
	return r.users[i], true
}

// Attribute resolves an actor id, falling back to Anonymous.
func (r Roster) Attribute(id int64) User {
	if u, ok := r.Lookup(id); ok {
		return u
	}
	return Anonymous
}

// Users returns a copy of the roster in configuration order.
func (r Roster) Users() []User {
	out := make([]User, len(r.users))
	copy(out, r.users)
	return out
}

func (r Roster) Len() int { return len(r.users) }
