package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/utils"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// Segment is one recognized utterance with its time span
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the transcription of one audio chunk
type Result struct {
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Client talks to the transcription model server
type Client struct {
	httpclient *http.Client
	url        string
}

// NewClient creates a transcriber client from config
func NewClient() (*Client, error) {
	res := Client{}
	var err error
	res.url, err = utils.GetURLFromConfig("transcriber.url")
	if err != nil {
		return nil, err
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	res.httpclient = rc.StandardClient()
	return &res, nil
}

// Load asks the server to bring the transcription model into memory
func (c *Client) Load(ctx context.Context) error {
	return c.post(ctx, "load", nil, nil)
}

// Unload drops the transcription model from the server's memory
func (c *Client) Unload(ctx context.Context) error {
	return c.post(ctx, "unload", nil, nil)
}

type transcribeRequest struct {
	File     string `json:"file"`
	Language string `json:"language,omitempty"`
}

// Transcribe sends one audio chunk for recognition.
// Empty language lets the model detect it.
func (c *Client) Transcribe(ctx context.Context, file, language string) (*Result, error) {
	var res Result
	if err := c.post(ctx, "transcribe", transcribeRequest{File: file, Language: language}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	b := bytes.NewBuffer(nil)
	if in != nil {
		if err := json.NewEncoder(b).Encode(in); err != nil {
			return errors.Wrap(err, "Can't encode request")
		}
	}
	urlStr := utils.URLJoin(c.url, path)
	req, err := http.NewRequest(http.MethodPost, urlStr, b)
	if err != nil {
		return errors.Wrapf(err, "Can't prepare request to '%s'", urlStr)
	}
	req.Header.Set("Content-Type", "application/json")
	cmdapp.Log.Infof("Transcriber call %s", urlStr)
	resp, err := c.httpclient.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "Can't call '%s'", urlStr)
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return errors.Wrapf(err, "Can't invoke '%s'", urlStr)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "Can't decode response")
		}
	}
	return nil
}
