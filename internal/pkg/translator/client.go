package translator

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

// Client talks to the translation service
type Client struct {
	httpclient *http.Client
	url        string
	target     string
}

// NewClient creates a translator client from config
func NewClient() (*Client, error) {
	urlStr, err := utils.GetURLFromConfig("translator.url")
	if err != nil {
		return nil, err
	}
	cmdapp.Config.SetDefault("translator.targetLanguage", "en")
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &Client{url: urlStr, httpclient: rc.StandardClient(),
		target: cmdapp.Config.GetString("translator.targetLanguage")}, nil
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Translate returns text translated from sourceLang to the configured target language
func (c *Client) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	b := bytes.NewBuffer(nil)
	err := json.NewEncoder(b).Encode(translateRequest{Text: text, Source: sourceLang, Target: c.target})
	if err != nil {
		return "", errors.Wrap(err, "Can't encode request")
	}
	urlStr := utils.URLJoin(c.url, "translate")
	req, err := http.NewRequest(http.MethodPost, urlStr, b)
	if err != nil {
		return "", errors.Wrapf(err, "Can't prepare request to '%s'", urlStr)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpclient.Do(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(err, "Can't call '%s'", urlStr)
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return "", errors.Wrapf(err, "Can't invoke '%s'", urlStr)
	}
	var res translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", errors.Wrap(err, "Can't decode response")
	}
	return res.Text, nil
}
