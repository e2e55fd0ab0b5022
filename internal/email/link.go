package email

import (
	"net/url"
	"strings"
)

// GuestConfirmationURL arma el link de confirmacion con token y email.
func GuestConfirmationURL(baseURL, token, toEmail string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	q := url.Values{}
	q.Set("email", toEmail)
	return base + "/confirm/guest/" + url.PathEscape(token) + "?" + q.Encode()
}
