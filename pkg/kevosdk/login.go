package kevosdk

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// The login flow emulates the provider's browser single-sign-on sequence:
// authorize redirect, login form scrape, credential post, two more
// redirects, then the authorization-code exchange. It is linear; a failure
// at any step aborts the whole flow.

// The login page markup is a compatibility contract: these two inputs must
// be present or the provider has changed its page format.
var (
	csrfTokenPattern        = regexp.MustCompile(`<input name="__RequestVerificationToken" .+ value="(.+?)"`)
	serializedClientPattern = regexp.MustCompile(`<input .+ name="SerializedClient" value="(.+?)"`)
)

// Login authenticates against the provider's web single-sign-on flow and
// populates the client's token set and session identity.
//
// Wrong credentials yield an AuthenticationError. A missing scraped form
// field or redirect fragment yields a CompatibilityError. Unexpected HTTP
// statuses yield a ConnectivityError.
func (c *Client) Login(ctx context.Context, username, password string) error {
	pkce, err := generatePKCE()
	if err != nil {
		return err
	}
	certificate, err := c.deviceCertificate()
	if err != nil {
		return err
	}
	state, err := randomState()
	if err != nil {
		return err
	}

	httpc := c.noRedirectClient()

	// Step 1: hit the authorization endpoint with the PKCE challenge and
	// the device-context value embedding the certificate. A redirect to the
	// login page is the only acceptable answer.
	resp, err := c.getLogin(ctx, httpc, c.authorizeURL+"?"+c.authorizeParams(state, pkce, certificate).Encode())
	if err != nil {
		return err
	}
	drainClose(resp)
	if resp.StatusCode != http.StatusFound {
		return connectivityStatus(resp.StatusCode)
	}
	loginPageURL, err := resp.Location()
	if err != nil {
		return &CompatibilityError{Field: "authorize redirect location"}
	}

	// Step 2: fetch the login page and scrape the CSRF token and the
	// serialized client blob out of the form markup.
	resp, err = c.getLogin(ctx, httpc, loginPageURL.String())
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		drainClose(resp)
		return connectivityStatus(resp.StatusCode)
	}
	page, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return connectivity(fmt.Errorf("reading login page: %w", err))
	}

	csrfToken, ok := scrapeField(csrfTokenPattern, page)
	if !ok {
		return &CompatibilityError{Field: "__RequestVerificationToken form field"}
	}
	serializedClient, ok := scrapeField(serializedClientPattern, page)
	if !ok {
		return &CompatibilityError{Field: "SerializedClient form field"}
	}
	serializedClient = html.UnescapeString(serializedClient)

	// Step 3: post the credentials. The provider signals wrong credentials
	// by redirecting back to the authorize URL instead of raising an error.
	form := url.Values{
		"SerializedClient":           {serializedClient},
		"NumFailedAttempts":          {"0"},
		"Username":                   {username},
		"Password":                   {password},
		"login":                      {""},
		"__RequestVerificationToken": {csrfToken},
	}
	resp, err = c.postLoginForm(ctx, httpc, c.loginBaseURL+"/account/login", form)
	if err != nil {
		return err
	}
	drainClose(resp)
	if resp.StatusCode != http.StatusFound {
		return connectivityStatus(resp.StatusCode)
	}
	if resp.Header.Get("Location") == c.authorizeURL {
		return &AuthenticationError{Reason: "invalid credentials"}
	}
	successURL, err := resp.Location()
	if err != nil {
		return &CompatibilityError{Field: "login redirect location"}
	}

	// Step 4: follow the success redirect; the next redirect carries the
	// authorization code in its fragment's query parameters.
	resp, err = c.getLogin(ctx, httpc, successURL.String())
	if err != nil {
		return err
	}
	drainClose(resp)
	if resp.StatusCode != http.StatusFound {
		return connectivityStatus(resp.StatusCode)
	}
	code, err := codeFromFragment(resp.Header.Get("Location"))
	if err != nil {
		return err
	}

	// Step 5: exchange the authorization code plus PKCE verifier for the
	// token set, then decode the session identity from the id token.
	set, err := c.requestTokenGrant(ctx, url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
		"code_verifier": {pkce.verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {c.redirectURI},
	})
	if err != nil {
		return err
	}
	userID, err := subjectFromIDToken(set.idToken)
	if err != nil {
		return err
	}

	c.setSession(*set, userID)
	c.logger.Info("login complete", "user_id", userID)
	return nil
}

// authorizeParams builds the authorization endpoint query, including the
// multi-line device-context value the provider requires.
func (c *Client) authorizeParams(state string, pkce *pkceChallenge, certificate string) url.Values {
	deviceContext := fmt.Sprintf(
		"\n appId:%s\n tenant:%s\n tenantCode:KWK\n tenantClientId:%s\n loginContext:Web"+
			"\n deviceType:Browser\n deviceName:Chrome,(Windows)\n deviceMake:Chrome,108.0.0.0"+
			"\n deviceModel:Windows,10\n deviceVersion:rp-1.0.2\n staticDeviceId:%s"+
			"\n deviceCertificate:%s\n isDark:false",
		c.clientID, c.tenantID, c.clientID, c.deviceID, certificate,
	)

	return url.Values{
		"client_id":             {c.clientID},
		"redirect_uri":          {c.redirectURI},
		"response_type":         {"code"},
		"scope":                 {"openid email profile identity.api tumbler.api tumbler.ws offline_access"},
		"state":                 {state},
		"code_challenge":        {pkce.challenge},
		"code_challenge_method": {pkce.method},
		"prompt":                {"login"},
		"response_mode":         {"query"},
		"acr_values":            {deviceContext},
	}
}

// noRedirectClient clones the underlying HTTP client with redirect
// following disabled. Every redirect in the flow is inspected by hand.
func (c *Client) noRedirectClient() *http.Client {
	return &http.Client{
		Transport: c.httpClient.Transport,
		Jar:       c.httpClient.Jar,
		Timeout:   c.httpClient.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (c *Client) getLogin(ctx context.Context, httpc *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, connectivity(fmt.Errorf("login flow request: %w", err))
	}
	return resp, nil
}

func (c *Client) postLoginForm(ctx context.Context, httpc *http.Client, rawURL string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, connectivity(fmt.Errorf("login flow request: %w", err))
	}
	return resp, nil
}

// drainClose discards and closes a response body so the underlying
// connection can be reused.
func drainClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// scrapeField returns the first capture group of pattern in page.
func scrapeField(pattern *regexp.Regexp, page []byte) (string, bool) {
	m := pattern.FindSubmatch(page)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// codeFromFragment extracts the authorization code from the query parameters
// embedded in the fragment of the final redirect location, e.g.
// "https://mykevo.com/#/token?code=...&state=...".
func codeFromFragment(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Fragment == "" {
		return "", &CompatibilityError{Field: "redirect fragment"}
	}
	fragmentURL, err := url.Parse(u.Fragment)
	if err != nil {
		return "", &CompatibilityError{Field: "redirect fragment"}
	}
	code := fragmentURL.Query().Get("code")
	if code == "" {
		return "", &CompatibilityError{Field: "authorization code in redirect fragment"}
	}
	return code, nil
}

// randomState generates the opaque CSRF state token for the authorize
// request: the hex MD5 digest of 32 random bytes, matching the provider's
// own web client.
func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	sum := md5.Sum(buf)
	return hex.EncodeToString(sum[:]), nil
}
