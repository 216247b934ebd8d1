package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

type Config struct {
	BaseURL  string
	SessData string
	CSRF     string
	// RatePerMin bounds outbound submissions; manual retries can't hammer
	// the service. Zero means one submission per minute.
	RatePerMin int
}

// Client implements Publisher against the bilibili-style dynamic API:
// images are uploaded first, then the dynamic is created referencing them,
// and the status endpoint reports the moderation (acl) state.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("publish base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("publish base_url: %w", err)
	}
	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		log:     log,
	}, nil
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type uploadResult struct {
	ImageURL    string  `json:"image_url"`
	ImageWidth  float64 `json:"image_width"`
	ImageHeight float64 `json:"image_height"`
}

type createResult struct {
	DynamicIDStr string `json:"dynamic_id_str"`
}

type statusResult struct {
	Desc struct {
		ACL int `json:"acl"`
	} `json:"desc"`
}

func (c *Client) Submit(ctx context.Context, text string, images [][]byte) (Handle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Handle{}, err
	}

	var uploaded []uploadResult
	for i, img := range images {
		up, err := c.uploadImage(ctx, img)
		if err != nil {
			return Handle{}, fmt.Errorf("upload image %d: %w", i+1, err)
		}
		uploaded = append(uploaded, up)
	}

	form := url.Values{}
	form.Set("content", text)
	form.Set("csrf_token", c.cfg.CSRF)
	if len(uploaded) > 0 {
		pics, err := json.Marshal(uploaded)
		if err != nil {
			return Handle{}, err
		}
		form.Set("pictures", string(pics))
	}

	endpoint := c.cfg.BaseURL + "/dynamic_svr/v1/dynamic_svr/create"
	if len(uploaded) > 0 {
		endpoint = c.cfg.BaseURL + "/dynamic_svr/v1/dynamic_svr/create_draw"
	}
	var res createResult
	if err := c.postForm(ctx, endpoint, form, &res); err != nil {
		return Handle{}, err
	}
	c.log.Info("dynamic submitted", logx.String("dynamic_id", res.DynamicIDStr))
	return Handle{DynamicID: res.DynamicIDStr}, nil
}

func (c *Client) Status(ctx context.Context, h Handle) (Moderation, error) {
	u := c.cfg.BaseURL + "/dynamic_svr/v1/dynamic_svr/get_dynamic_detail?dynamic_id=" + url.QueryEscape(h.DynamicID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Moderation{}, err
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Moderation{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return Moderation{}, classifyTransport(err)
	}
	if env.Code != 0 {
		return Moderation{}, fmt.Errorf("status query failed (code %d): %s", env.Code, env.Message)
	}
	var st statusResult
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &st); err != nil {
			return Moderation{}, err
		}
	}
	return Moderation{Clear: st.Desc.ACL == 0}, nil
}

func (c *Client) uploadImage(ctx context.Context, img []byte) (uploadResult, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	// explicit boundary so upload requests are traceable in service logs
	if err := w.SetBoundary("sakamichibot-" + uuid.NewString()); err != nil {
		return uploadResult{}, err
	}
	part, err := w.CreateFormFile("file_up", "image.jpg")
	if err != nil {
		return uploadResult{}, err
	}
	if _, err := part.Write(img); err != nil {
		return uploadResult{}, err
	}
	_ = w.WriteField("biz", "dyn")
	_ = w.WriteField("category", "daily")
	if err := w.Close(); err != nil {
		return uploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/x/dynamic/feed/draw/upload_bfs", &body)
	if err != nil {
		return uploadResult{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return uploadResult{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return uploadResult{}, classifyTransport(err)
	}
	if env.Code != 0 {
		return uploadResult{}, &RejectedError{Code: env.Code, Message: env.Message}
	}
	var up uploadResult
	if err := json.Unmarshal(env.Data, &up); err != nil {
		return uploadResult{}, err
	}
	return up, nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return classifyTransport(err)
	}
	if env.Code != 0 {
		return &RejectedError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", "sakamichibot/1.0")
	if c.cfg.SessData != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.cfg.SessData})
	}
	if c.cfg.CSRF != "" {
		req.AddCookie(&http.Cookie{Name: "bili_jct", Value: c.cfg.CSRF})
	}
}

// classifyTransport maps peer-reset style failures to ErrDisconnected so the
// worker's poll loop knows what is worth retrying.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe") {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return err
}
