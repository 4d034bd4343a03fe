package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/pkg/errors"
)

// httpBackend posts one JSON message per request.
type httpBackend struct {
	endpoint string
	client   *req.Client
}

func newHTTPBackend(endpoint string, timeout time.Duration) *httpBackend {
	client := req.C().
		SetTimeout(timeout).
		SetUserAgent("lookout").
		SetCommonHeader("Accept", "application/json")
	return &httpBackend{endpoint: endpoint, client: client}
}

func (b *httpBackend) Open(context.Context) error { return nil }

func (b *httpBackend) RoundTrip(ctx context.Context, msg Message) (Reply, error) {
	body, err := encodeMessage(msg)
	if err != nil {
		return Reply{}, err
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetBodyJsonBytes(body).
		Post(b.endpoint)
	if err != nil {
		return Reply{}, errors.Wrapf(err, "post %s", b.endpoint)
	}

	raw, err := resp.ToBytes()
	if err != nil {
		return Reply{}, errors.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reply, _ := decodeReply(raw)
		return reply, &Error{StatusCode: resp.StatusCode, Message: reply.Error}
	}

	reply, err := decodeReply(raw)
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (b *httpBackend) Probe(ctx context.Context) error {
	resp, err := b.client.R().SetContext(ctx).Options(b.endpoint)
	if err != nil {
		return errors.Wrapf(err, "options %s", b.endpoint)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &Error{Op: "probe", StatusCode: resp.StatusCode}
	}
	return nil
}

func (b *httpBackend) Close() error { return nil }
