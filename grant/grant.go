// Package grant issues short-lived signed capability tokens that let one
// participant join one room with full media permissions.
//
// Tokens are HS256 JWTs in the LiveKit access-token layout, so any
// LiveKit-compatible session provider configured with the same key pair
// accepts them.
package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/metrics"
	"github.com/bt-bridge/voice-room/shared"
)

// ValidFor is the lifetime of every grant. Grants are never renewed or
// revoked; expiry is the only way they end.
const ValidFor = 15 * time.Minute

// Permissions is the capability set of a grant. Every issued grant has all
// four set.
type Permissions struct {
	Join         bool `json:"join" yaml:"join"`
	PublishAudio bool `json:"publishAudio" yaml:"publishAudio"`
	PublishData  bool `json:"publishData" yaml:"publishData"`
	Subscribe    bool `json:"subscribe" yaml:"subscribe"`
}

func fullParticipant() Permissions {
	return Permissions{Join: true, PublishAudio: true, PublishData: true, Subscribe: true}
}

// Grant is an immutable, signed authorization for Identity to join Room.
type Grant struct {
	Identity    string      `json:"identity" yaml:"identity"`
	Room        string      `json:"room" yaml:"room"`
	IssuedAt    time.Time   `json:"issuedAt" yaml:"issuedAt"`
	ExpiresAt   time.Time   `json:"expiresAt" yaml:"expiresAt"`
	Permissions Permissions `json:"permissions" yaml:"permissions"`
	Token       string      `json:"-" yaml:"-"`
}

// Config carries the deployment credentials. Values are consumed as-is.
type Config struct {
	APIKey    string `yaml:"apiKey"`
	APISecret string `yaml:"-"`
	ServerURL string `yaml:"serverUrl"`
}

// Missing lists the names of unset fields.
func (c Config) Missing() []string {
	var out []string
	if c.APIKey == "" {
		out = append(out, "api key")
	}
	if c.APISecret == "" {
		out = append(out, "api secret")
	}
	if c.ServerURL == "" {
		out = append(out, "server url")
	}
	return out
}

type videoClaim struct {
	Room           string `json:"room,omitempty"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     bool   `json:"canPublish"`
	CanPublishData bool   `json:"canPublishData"`
	CanSubscribe   bool   `json:"canSubscribe"`
}

type claims struct {
	jwt.RegisteredClaims
	Name  string      `json:"name,omitempty"`
	Video *videoClaim `json:"video,omitempty"`
}

type Option func(*Issuer)

func WithClock(clock func() time.Time) Option {
	return func(i *Issuer) {
		i.clock = clock
	}
}

func WithLogger(logger shared.LoggerAdapter) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

// Issuer signs grants. It keeps no state between calls.
type Issuer struct {
	cfg     Config
	clock   func() time.Time
	logger  shared.LoggerAdapter
	metrics *metrics.Metrics
}

func NewIssuer(cfg Config, opts ...Option) *Issuer {
	i := &Issuer{
		cfg:     cfg,
		clock:   time.Now,
		logger:  shared.NewNopLogger(),
		metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue validates the request and signs a full-participant grant for
// identity in room, valid for ValidFor.
func (i *Issuer) Issue(room, identity string) (*Grant, error) {
	g, err := i.issue(room, identity)
	if err != nil {
		i.metrics.GrantsRejected.WithLabelValues(shared.KindOf(err).String()).Inc()
		i.logger.Warn("grant rejected",
			zap.String("room", room),
			zap.String("identity", identity),
			zap.Error(err),
		)
		return nil, err
	}
	i.metrics.GrantsIssued.Inc()
	i.logger.Info("grant issued",
		zap.String("room", room),
		zap.String("identity", identity),
		zap.Time("expiresAt", g.ExpiresAt),
	)
	return g, nil
}

func (i *Issuer) issue(room, identity string) (*Grant, error) {
	if room == "" {
		return nil, shared.InvalidRequest(`missing "room"`)
	}
	if identity == "" {
		return nil, shared.InvalidRequest(`missing "identity"`)
	}
	if missing := i.cfg.Missing(); len(missing) > 0 {
		return nil, shared.Misconfigured(fmt.Sprintf("missing credentials: %v", missing))
	}

	now := i.clock().Truncate(time.Second)
	g := &Grant{
		Identity:    identity,
		Room:        room,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ValidFor),
		Permissions: fullParticipant(),
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.APIKey,
			Subject:   identity,
			ID:        identity,
			IssuedAt:  jwt.NewNumericDate(g.IssuedAt),
			NotBefore: jwt.NewNumericDate(g.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
		},
		Name: identity,
		Video: &videoClaim{
			Room:           room,
			RoomJoin:       g.Permissions.Join,
			CanPublish:     g.Permissions.PublishAudio,
			CanPublishData: g.Permissions.PublishData,
			CanSubscribe:   g.Permissions.Subscribe,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(i.cfg.APISecret))
	if err != nil {
		return nil, shared.AuthorizationFailure("signing token", err)
	}
	g.Token = token
	return g, nil
}

// Verify checks a token's signature, issuer and validity window and returns
// the grant it encodes.
func (i *Issuer) Verify(token string) (*Grant, error) {
	if missing := i.cfg.Missing(); len(missing) > 0 {
		return nil, shared.Misconfigured(fmt.Sprintf("missing credentials: %v", missing))
	}
	c := new(claims)
	_, err := jwt.ParseWithClaims(token, c,
		func(*jwt.Token) (any, error) {
			return []byte(i.cfg.APISecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.APIKey),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return nil, shared.AuthorizationFailure("verifying token", err)
	}
	if c.Video == nil {
		return nil, shared.AuthorizationFailure("verifying token", errors.New("token carries no room grant"))
	}
	g := &Grant{
		Identity:  c.Subject,
		Room:      c.Video.Room,
		ExpiresAt: c.ExpiresAt.Time,
		Permissions: Permissions{
			Join:         c.Video.RoomJoin,
			PublishAudio: c.Video.CanPublish,
			PublishData:  c.Video.CanPublishData,
			Subscribe:    c.Video.CanSubscribe,
		},
		Token: token,
	}
	if c.IssuedAt != nil {
		g.IssuedAt = c.IssuedAt.Time
	}
	return g, nil
}
