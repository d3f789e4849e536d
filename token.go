package voiceroom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/bt-bridge/voice-room/grant"
	"github.com/bt-bridge/voice-room/shared"
)

// TokenResponse is the token endpoint's body. Exactly one field is set.
type TokenResponse struct {
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// Error bodies of a 500 from the token endpoint.
const (
	TokenErrorMisconfigured = "Server misconfigured"
	TokenErrorSigning       = "Failed to sign token"
)

// HTTPTokenSource fetches grants from a token endpoint.
type HTTPTokenSource struct {
	logger   shared.LoggerAdapter
	endpoint *url.URL
	client   *fasthttp.Client
}

func NewHTTPTokenSource(logger shared.LoggerAdapter, endpoint string, timeout time.Duration) (*HTTPTokenSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing token endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("token endpoint %q is not absolute", endpoint)
	}
	return &HTTPTokenSource{
		logger:   logger,
		endpoint: u,
		client: &fasthttp.Client{
			Name:         "voiceroom/" + shared.Version,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}, nil
}

// Token requests a grant. A 400 maps to InvalidRequest, a 500 to
// Misconfigured, anything else that prevents a token to AuthorizationFailure.
func (s *HTTPTokenSource) Token(ctx context.Context, room, identity string) (string, error) {
	u := *s.endpoint
	q := u.Query()
	q.Set("room", room)
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	release := func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}
	req.SetRequestURI(u.String())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	errC := make(chan error, 1)
	go func() {
		errC <- s.client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		// req and resp stay in use until Do returns.
		go func() {
			<-errC
			release()
		}()
		return "", shared.AuthorizationFailure("requesting token", ctx.Err())
	case err := <-errC:
		defer release()
		if err != nil {
			return "", shared.AuthorizationFailure("requesting token", err)
		}
	}

	var body TokenResponse
	if err := sonic.Unmarshal(resp.Body(), &body); err != nil {
		s.logger.Debug("undecodable token response",
			zap.Int("status", resp.StatusCode()),
			zap.ByteString("body", resp.Body()),
		)
		return "", shared.AuthorizationFailure("decoding token response", err)
	}
	switch status := resp.StatusCode(); {
	case status == fasthttp.StatusOK && body.Token != "":
		return body.Token, nil
	case status == fasthttp.StatusOK:
		return "", shared.AuthorizationFailure("decoding token response", errors.New("empty token"))
	case status == fasthttp.StatusBadRequest:
		return "", shared.InvalidRequest(body.Error)
	case status >= fasthttp.StatusInternalServerError && body.Error == TokenErrorMisconfigured:
		return "", shared.Misconfigured(body.Error)
	default:
		return "", shared.AuthorizationFailure(
			"requesting token",
			fmt.Errorf("unexpected status code: %d, error: %s", status, body.Error),
		)
	}
}

// IssuerTokenSource signs grants in-process.
type IssuerTokenSource struct {
	Issuer *grant.Issuer
}

func (s IssuerTokenSource) Token(_ context.Context, room, identity string) (string, error) {
	g, err := s.Issuer.Issue(room, identity)
	if err != nil {
		return "", err
	}
	return g.Token, nil
}
