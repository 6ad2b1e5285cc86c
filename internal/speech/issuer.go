package speech

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// STSIssuer fetches tokens from the region-scoped issuance endpoint with the
// subscription key in a header.
type STSIssuer struct {
	httpClient      *resty.Client
	region          string
	subscriptionKey string
}

func NewSTSIssuer(region, subscriptionKey string) *STSIssuer {
	client := resty.New()
	client.SetTimeout(10 * time.Second)

	return &STSIssuer{
		httpClient:      client,
		region:          region,
		subscriptionKey: subscriptionKey,
	}
}

// WithBaseURL points the issuer at a non-default endpoint. Test use only.
func (issuer *STSIssuer) WithBaseURL(baseURL string) *STSIssuer {
	issuer.httpClient.SetBaseURL(baseURL)
	return issuer
}

func (issuer *STSIssuer) IssueToken(ctx context.Context) (string, error) {
	url := "/sts/v1.0/issueToken"
	if issuer.httpClient.BaseURL == "" {
		url = fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", issuer.region)
	}

	res, err := issuer.httpClient.R().
		SetContext(ctx).
		SetHeader("Ocp-Apim-Subscription-Key", issuer.subscriptionKey).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("client.R.Post > %w", err)
	}
	if res.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("status code: %d, body: %s", res.StatusCode(), string(res.Body()))
	}
	return string(res.Body()), nil
}
