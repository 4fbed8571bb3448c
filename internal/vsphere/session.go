package vsphere

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"virthub/internal/logs"
	"virthub/internal/models"
	"virthub/internal/vault"

	"golang.org/x/time/rate"
)

// Ошибки сессии. Любая из них фатальна для прогона синхронизации.
var (
	ErrAuthFailed   = errors.New("session: authentication failed")
	ErrUnreachable  = errors.New("session: endpoint unreachable")
	ErrTimeout      = errors.New("session: timed out")
	ErrExpired      = errors.New("session: remote session expired")
	ErrNotConnected = errors.New("session: not connected")
)

// State — состояние сессии: Disconnected → Connecting → Connected → (Disconnected | Faulted).
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "disconnected"
	}
}

// Options — таймауты и лимит запросов к платформе.
type Options struct {
	ConnectTimeout    time.Duration
	ExecuteTimeout    time.Duration
	RequestsPerSecond float64
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ExecuteTimeout <= 0 {
		o.ExecuteTimeout = 60 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	return o
}

// About — сведения о платформе, получаемые при подключении.
type About struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Build   string `json:"build"`
}

// Session — одно живое аутентифицированное подключение к платформе.
// Контракт single-writer: два логических вызывающих не делят один Session.
// Автопереподключения нет — политика ретраев остаётся видимой оркестратору.
type Session struct {
	platform *models.Platform
	cred     *models.Credential
	vlt      *vault.Vault
	opts     Options

	hc      *http.Client
	limiter *rate.Limiter
	baseURL string

	mu    sync.Mutex
	state State
	token string
	about About
}

func NewSession(p *models.Platform, c *models.Credential, vlt *vault.Vault, opts Options) *Session {
	opts = opts.withDefaults()
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !p.TLSVerify}, //nolint:gosec // по настройке платформы
	}
	return &Session{
		platform: p,
		cred:     c,
		vlt:      vlt,
		opts:     opts,
		hc:       &http.Client{Transport: transport},
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		baseURL:  p.BaseURL(),
	}
}

// State — текущее состояние сессии.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// About — версия/сборка платформы; валидно после успешного Connect.
func (s *Session) About() About {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.about
}

// Connect распечатывает учётные данные и выполняет логин с ограниченным
// таймаутом. Переходит в Connected либо в Faulted с одной из ошибок сессии.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	secret, err := s.vlt.Unseal(s.cred.Secret)
	if err != nil {
		s.setState(StateFaulted)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rest/com/vmware/cis/session", nil)
	if err != nil {
		vault.Zero(secret)
		s.setState(StateFaulted)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	switch s.cred.AuthKind {
	case models.AuthKindToken:
		req.Header.Set("Authorization", "Bearer "+string(secret))
	default: // password | keypair
		req.SetBasicAuth(s.cred.Principal, string(secret))
	}
	vault.Zero(secret)

	resp, err := s.hc.Do(req)
	if err != nil {
		s.setState(StateFaulted)
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return fmt.Errorf("%w: connect to %s", ErrTimeout, s.platform.Address)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		s.setState(StateFaulted)
		return fmt.Errorf("%w: principal %q", ErrAuthFailed, s.cred.Principal)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		s.setState(StateFaulted)
		return fmt.Errorf("%w: login status %d", ErrUnreachable, resp.StatusCode)
	}

	var login struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil || login.Value == "" {
		s.setState(StateFaulted)
		return fmt.Errorf("%w: bad login response", ErrUnreachable)
	}

	s.mu.Lock()
	s.token = login.Value
	s.state = StateConnected
	s.mu.Unlock()

	// Версия платформы — best-effort, не роняет подключение.
	var about struct {
		Value About `json:"value"`
	}
	if err := s.Execute(ctx, http.MethodGet, "/rest/appliance/system/version", nil, &about); err == nil {
		s.mu.Lock()
		s.about = about.Value
		s.mu.Unlock()
	} else {
		logs.L().Warnf("session: about info for %s: %v", s.platform.Name, err)
	}
	return nil
}

// Execute проксирует один запрос к платформе. Ответ 401 на живой сессии
// означает тихое истечение на стороне платформы: сессия уходит в
// Disconnected, вызывающий получает ErrExpired и сам решает, переподключаться ли.
func (s *Session) Execute(ctx context.Context, method, path string, query url.Values, out any) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	token := s.token
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ExecuteTimeout)
	defer cancel()

	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("vmware-api-session-id", token)

	resp, err := s.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.mu.Lock()
		s.token = ""
		s.state = StateDisconnected
		s.mu.Unlock()
		return ErrExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("session: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Disconnect идемпотентен и безопасен из любого состояния, включая Faulted.
// Вызывается через defer на каждом пути выхода из синка.
func (s *Session) Disconnect() {
	s.mu.Lock()
	token := s.token
	s.token = ""
	s.state = StateDisconnected
	s.mu.Unlock()

	if token == "" {
		return
	}
	// best-effort logout, платформа сама протухшие сессии чистит
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/rest/com/vmware/cis/session", nil)
	if err != nil {
		return
	}
	req.Header.Set("vmware-api-session-id", token)
	if resp, err := s.hc.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
