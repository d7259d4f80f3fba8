// Package session tracks the backend users and which of them is acting.
// The selection survives restarts through a key/value store.
package session

import (
	"context"
	"errors"
	"strings"

	"talespinner/db"
	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

var ErrNameRequired = errors.New("user name is required")

type UserAPI interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, payload UserCreate) (User, error)
	UpdateUserPassword(ctx context.Context, id string, password *string) (User, error)
	DeleteUser(ctx context.Context, id string) error
}

// KV persists small string values. *db.DB satisfies it.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

type UsersLoadedMsg struct {
	Users []User
	Err   error
}

type UserFetchedMsg struct {
	Gen  int
	ID   string
	User User
	Err  error
}

type UserCreatedMsg struct {
	User User
	Err  error
}

type PasswordUpdatedMsg struct {
	ID   string
	User User
	Err  error
}

type UserDeletedMsg struct {
	ID  string
	Err error
}

type Store struct {
	api    UserAPI
	kv     KV
	logger *zap.Logger

	users         []User
	current       *User
	selectedID    string
	usersStatus   Status
	currentStatus Status
	err           string
	gen           int
}

func New(api UserAPI, kv KV, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{api: api, kv: kv, logger: logger}
}

func (s *Store) Users() []User         { return s.users }
func (s *Store) SelectedID() string    { return s.selectedID }
func (s *Store) UsersStatus() Status   { return s.usersStatus }
func (s *Store) CurrentStatus() Status { return s.currentStatus }
func (s *Store) Err() string           { return s.err }

// CurrentUserID is the acting user, or "" when nobody is selected.
func (s *Store) CurrentUserID() string {
	return s.selectedID
}

func (s *Store) Current() (User, bool) {
	if s.current == nil {
		return User{}, false
	}
	return *s.current, true
}

// Start loads the user list and restores the persisted selection.
func (s *Store) Start() tea.Cmd {
	cmds := []tea.Cmd{s.load()}
	id, ok, err := s.kv.Get(db.KeyCurrentUser)
	if err != nil {
		s.logger.Warn("read selected user failed", zap.Error(err))
	}
	if ok && id != "" {
		cmds = append(cmds, s.Select(id))
	}
	return tea.Batch(cmds...)
}

func (s *Store) Reload() tea.Cmd {
	return s.load()
}

func (s *Store) load() tea.Cmd {
	s.usersStatus = StatusLoading
	s.err = ""
	return func() tea.Msg {
		users, err := s.api.ListUsers(context.Background())
		return UsersLoadedMsg{Users: users, Err: err}
	}
}

// Select persists id as the acting user and fetches its record.
func (s *Store) Select(id string) tea.Cmd {
	if id == "" {
		s.ClearSelection()
		return nil
	}
	s.gen++
	s.selectedID = id
	s.currentStatus = StatusLoading
	s.err = ""
	if err := s.kv.Set(db.KeyCurrentUser, id); err != nil {
		s.logger.Warn("persist selected user failed", zap.Error(err))
	}
	gen := s.gen
	return func() tea.Msg {
		user, err := s.api.GetUser(context.Background(), id)
		return UserFetchedMsg{Gen: gen, ID: id, User: user, Err: err}
	}
}

func (s *Store) ClearSelection() {
	s.gen++
	s.selectedID = ""
	s.current = nil
	s.currentStatus = StatusIdle
	s.err = ""
	if err := s.kv.Remove(db.KeyCurrentUser); err != nil {
		s.logger.Warn("remove selected user failed", zap.Error(err))
	}
}

// Create registers a user; a nil password creates one without a password.
// On success the new user becomes the selection.
func (s *Store) Create(name string, password *string) tea.Cmd {
	name = strings.TrimSpace(name)
	if name == "" {
		s.err = ErrNameRequired.Error()
		return nil
	}
	s.currentStatus = StatusLoading
	s.err = ""
	payload := UserCreate{Name: name, Password: password}
	return func() tea.Msg {
		user, err := s.api.CreateUser(context.Background(), payload)
		return UserCreatedMsg{User: user, Err: err}
	}
}

// UpdatePassword sets or, with nil, clears the password of id.
func (s *Store) UpdatePassword(id string, password *string) tea.Cmd {
	s.currentStatus = StatusLoading
	s.err = ""
	return func() tea.Msg {
		user, err := s.api.UpdateUserPassword(context.Background(), id, password)
		return PasswordUpdatedMsg{ID: id, User: user, Err: err}
	}
}

func (s *Store) Delete(id string) tea.Cmd {
	s.err = ""
	return func() tea.Msg {
		return UserDeletedMsg{ID: id, Err: s.api.DeleteUser(context.Background(), id)}
	}
}

func (s *Store) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case UsersLoadedMsg:
		if msg.Err != nil {
			s.usersStatus = StatusError
			s.err = msg.Err.Error()
			return nil
		}
		s.usersStatus = StatusSuccess
		s.users = msg.Users

	case UserFetchedMsg:
		if msg.Gen != s.gen || msg.ID != s.selectedID {
			return nil
		}
		if msg.Err != nil {
			s.logger.Warn("selected user unavailable", zap.String("id", msg.ID), zap.Error(msg.Err))
			s.ClearSelection()
			s.err = msg.Err.Error()
			return nil
		}
		user := msg.User
		s.current = &user
		s.currentStatus = StatusSuccess

	case UserCreatedMsg:
		if msg.Err != nil {
			s.currentStatus = StatusError
			s.err = msg.Err.Error()
			return nil
		}
		s.users = append(append([]User(nil), s.users...), msg.User)
		cmd := s.Select(msg.User.ID)
		user := msg.User
		s.current = &user
		return cmd

	case PasswordUpdatedMsg:
		if msg.Err != nil {
			s.currentStatus = StatusError
			s.err = msg.Err.Error()
			return nil
		}
		s.users = replaceUser(s.users, msg.User)
		if msg.User.ID == s.selectedID {
			user := msg.User
			s.current = &user
		}
		s.currentStatus = StatusSuccess

	case UserDeletedMsg:
		if msg.Err != nil {
			s.err = msg.Err.Error()
			return nil
		}
		out := make([]User, 0, len(s.users))
		for _, u := range s.users {
			if u.ID != msg.ID {
				out = append(out, u)
			}
		}
		s.users = out
		if msg.ID == s.selectedID {
			s.ClearSelection()
		}
	}
	return nil
}

func replaceUser(users []User, user User) []User {
	out := make([]User, len(users))
	copy(out, users)
	for i := range out {
		if out[i].ID == user.ID {
			out[i] = user
		}
	}
	return out
}
