package transport

import (
	"context"
	"net/http"
)

// StaticTarget always dials the same URL with the same headers.
func StaticTarget(url string, header http.Header) Target {
	return func(context.Context) (string, http.Header, error) {
		return url, header, nil
	}
}

// CookieHeader builds a dial header carrying one cookie.
func CookieHeader(name, value string) http.Header {
	header := http.Header{}
	if value != "" {
		header.Add("Cookie", (&http.Cookie{Name: name, Value: value}).String())
	}
	return header
}
