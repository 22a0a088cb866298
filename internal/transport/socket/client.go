package socket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"time"

	"searchsync/internal/apperr"
	"searchsync/internal/domain"
	"searchsync/internal/transport"

	"github.com/google/uuid"
)

// Client talks to a socket endpoint. It is a transport.Sender for change events and
// also issues remote searches.
type Client struct {
	Network   string
	Address   string
	AuthToken string
	Timeout   time.Duration
}

var _ transport.Sender = (*Client)(nil)

func (c *Client) Send(ctx context.Context, ev domain.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	res, err := c.do(ctx, &SocketRequest{Operation: int32(OperationPublish), Publish: &PublishRequest{Event: fromDomain(ev)}})
	if err != nil {
		return err
	}
	if res.Publish == nil || !res.Publish.Accepted {
		return fmt.Errorf("publish record %d not accepted", ev.RecordID)
	}
	return nil
}

func (c *Client) Search(ctx context.Context, keyword string, page, size int) (domain.Page[domain.SearchDocument], error) {
	if page < 0 || page > math.MaxInt32 {
		return domain.Page[domain.SearchDocument]{}, apperr.Newf(apperr.CodeInvalidArgument, "page must be between 0 and %d, got %d", math.MaxInt32, page)
	}
	if size < 0 || size > math.MaxInt32 {
		return domain.Page[domain.SearchDocument]{}, apperr.Newf(apperr.CodeInvalidArgument, "size must be between 0 and %d, got %d", math.MaxInt32, size)
	}
	res, err := c.do(ctx, &SocketRequest{Operation: int32(OperationSearch), Search: &SearchRequest{Keyword: keyword, Page: int32(page), Size: int32(size)}})
	if err != nil {
		return domain.Page[domain.SearchDocument]{}, err
	}
	if res.Search == nil {
		return domain.Page[domain.SearchDocument]{}, errors.New("search response missing")
	}
	return fromSearchResponse(res.Search), nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, &SocketRequest{Operation: int32(OperationPing), Ping: &PingRequest{}})
	return err
}

func (c *Client) do(ctx context.Context, req *SocketRequest) (*SocketResponse, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	req.RequestId = uuid.NewString()
	req.AuthToken = c.AuthToken
	network := c.Network
	if network == "" {
		network = "tcp"
	}
	res, err := DialAndRequest(ctx, network, c.Address, req)
	if err != nil {
		return nil, transport.Temporary(fmt.Errorf("socket request: %w", err))
	}
	if err := responseError(res); err != nil {
		return nil, err
	}
	return res, nil
}

// responseError maps a failed response to an error. Overloaded and unavailable responses
// are temporary; a bad request is malformed or invalid input.
func responseError(res *SocketResponse) error {
	code := ErrorCode(res.ErrorCode)
	switch code {
	case ErrorCodeOK:
		return nil
	case ErrorCodeOverloaded, ErrorCodeUnavailable:
		return transport.Temporary(Error(code, res.ErrorMessage))
	case ErrorCodeBadRequest:
		return apperr.Wrap(apperr.CodeInvalidArgument, res.ErrorMessage, Error(code, res.ErrorMessage))
	case ErrorCodeNotFound:
		return apperr.Wrap(apperr.CodeNotFound, res.ErrorMessage, Error(code, res.ErrorMessage))
	default:
		return Error(code, res.ErrorMessage)
	}
}

// DialAndRequest opens a connection, sends one request and reads one response.
func DialAndRequest(ctx context.Context, network, address string, req *SocketRequest) (*SocketResponse, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	payload, err := MarshalMessage(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	frame, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}
	return UnmarshalResponse(frame)
}

func Retryable(code int32) bool {
	return ErrorCode(code) == ErrorCodeOverloaded || ErrorCode(code) == ErrorCodeUnavailable
}

func Error(code ErrorCode, msg string) error { return fmt.Errorf("%d:%s", code, msg) }
