package store

import (
	"context"

	. "talespinner/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type TokensLoadedMsg struct {
	Epoch  int
	Gen    int
	Tokens []Token
	Err    error
}

type TokenFetchedMsg struct {
	Epoch int
	Token Token
	Err   error
}

type TokenCreatedMsg struct {
	Epoch int
	Token Token
	Err   error
}

type TokenUpdatedMsg struct {
	Epoch int
	ID    string
	Token Token
	Err   error
}

type TokenRemovedMsg struct {
	Epoch int
	ID    string
	Err   error
}

type Tokens struct {
	status
	api    TokenAPI
	logger *zap.Logger
	items  []Token
	gen    int
}

func NewTokens(api TokenAPI, logger *zap.Logger) *Tokens {
	return &Tokens{api: api, logger: logger}
}

func tokenID(t Token) string { return t.ID }

func (s *Tokens) Items() []Token {
	return s.items
}

func (s *Tokens) Get(id string) (Token, bool) {
	for _, t := range s.items {
		if t.ID == id {
			return t, true
		}
	}
	return Token{}, false
}

// ByProvider groups tokens by provider, keeping list order within a group.
func (s *Tokens) ByProvider() map[ProviderType][]Token {
	groups := make(map[ProviderType][]Token)
	for _, t := range s.items {
		groups[t.Provider] = append(groups[t.Provider], t)
	}
	return groups
}

func (s *Tokens) Active() []Token {
	var out []Token
	for _, t := range s.items {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out
}

func (s *Tokens) ActiveFor(provider ProviderType) []Token {
	var out []Token
	for _, t := range s.items {
		if t.IsActive && t.Provider == provider {
			out = append(out, t)
		}
	}
	return out
}

func (s *Tokens) IsCurrent(msg TokensLoadedMsg) bool {
	return msg.Gen == s.gen
}

func (s *Tokens) Load(owner string) tea.Cmd {
	s.gen++
	epoch, gen := s.begin(), s.gen
	return func() tea.Msg {
		tokens, err := s.api.ListTokens(context.Background(), owner)
		return TokensLoadedMsg{Epoch: epoch, Gen: gen, Tokens: tokens, Err: err}
	}
}

func (s *Tokens) Fetch(owner, id string) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		token, err := s.api.GetToken(context.Background(), owner, id)
		return TokenFetchedMsg{Epoch: epoch, Token: token, Err: err}
	}
}

func (s *Tokens) Create(owner string, payload TokenCreate) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		token, err := s.api.CreateToken(context.Background(), owner, payload)
		return TokenCreatedMsg{Epoch: epoch, Token: token, Err: err}
	}
}

func (s *Tokens) Update(owner, id string, patch TokenUpdate) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		token, err := s.api.UpdateToken(context.Background(), owner, id, patch)
		return TokenUpdatedMsg{Epoch: epoch, ID: id, Token: token, Err: err}
	}
}

func (s *Tokens) Remove(owner, id string) tea.Cmd {
	epoch := s.begin()
	return func() tea.Msg {
		return TokenRemovedMsg{Epoch: epoch, ID: id, Err: s.api.DeleteToken(context.Background(), owner, id)}
	}
}

func (s *Tokens) Reset() {
	s.items = nil
	s.reset()
	s.gen++
}

func (s *Tokens) Apply(msg tea.Msg) {
	switch msg := msg.(type) {
	case TokensLoadedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		if !s.IsCurrent(msg) {
			s.end(nil)
			return
		}
		s.end(msg.Err)
		if msg.Err == nil {
			s.items = msg.Tokens
		}

	case TokenFetchedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			return
		}
		if _, ok := s.Get(msg.Token.ID); ok {
			s.items = replaceByID(s.items, tokenID, msg.Token)
		} else {
			s.items = append(append([]Token(nil), s.items...), msg.Token)
		}

	case TokenCreatedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("create token failed", zap.Error(msg.Err))
			return
		}
		s.items = append(append([]Token(nil), s.items...), msg.Token)

	case TokenUpdatedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("update token failed", zap.String("id", msg.ID), zap.Error(msg.Err))
			return
		}
		s.items = replaceByID(s.items, tokenID, msg.Token)

	case TokenRemovedMsg:
		if !s.Accepts(msg.Epoch) {
			return
		}
		s.end(msg.Err)
		if msg.Err != nil {
			s.logger.Warn("delete token failed", zap.String("id", msg.ID), zap.Error(msg.Err))
			return
		}
		s.items = removeByID(s.items, tokenID, msg.ID)
	}
}
