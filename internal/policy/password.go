package policy

import (
	"unicode"
	"unicode/utf8"

	"github.com/guymaich-jpg/factory-control-sub000/internal/model"
)

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 6

// CheckPassword はパスワードポリシーを検証する。
// 6文字以上で、英字と数字をそれぞれ1文字以上含む必要がある。
func CheckPassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewWeakPasswordError()
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return model.NewWeakPasswordError()
	}
	return nil
}
