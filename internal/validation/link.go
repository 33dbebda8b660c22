// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

var shareLinkPattern = regexp.MustCompile(`^https://(www\.)?(opr\.news|operanewsapp\.com)/`)

// IsShareLink проверяет, что текст является ссылкой новостной платформы.
func IsShareLink(text string) bool {
	return shareLinkPattern.MatchString(text)
}

// ShortenShareLink приводит длинную ссылку к короткому формату, если возможно.
func ShortenShareLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}

	if u.Host != "operanewsapp.com" && u.Host != "www.operanewsapp.com" {
		return link
	}

	entryID := u.Query().Get("news_entry_id")
	if entryID == "" {
		return link
	}

	return fmt.Sprintf("https://opr.news/%s", entryID)
}
