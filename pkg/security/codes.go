package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultCharset excludes I, L, O, 0 and 1 to avoid visual confusion
	DefaultCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	// LetterCharset is the letter subset of DefaultCharset
	LetterCharset = "ABCDEFGHJKMNPQRSTUVWXYZ"

	DeviceCodeMinLength  = 6
	DeviceCodeMaxLength  = 8
	StudentCodeMinLength = 3
	StudentCodeMaxLength = 6
)

// GenerateSecureRandom draws length characters from charset using
// crypto/rand. An empty charset selects DefaultCharset.
func (s *Service) GenerateSecureRandom(length int, charset string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid random length: %d", length)
	}
	if charset == "" {
		charset = DefaultCharset
	}

	max := big.NewInt(int64(len(charset)))
	var b strings.Builder
	b.Grow(length)

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random data: %w", err)
		}
		b.WriteByte(charset[n.Int64()])
	}

	return b.String(), nil
}

// GenerateDeviceCode returns a 6 to 8 character code. Uniqueness is not checked.
func (s *Service) GenerateDeviceCode() (string, error) {
	length, err := s.randomLength(DeviceCodeMinLength, DeviceCodeMaxLength)
	if err != nil {
		return "", err
	}
	return s.GenerateSecureRandom(length, DefaultCharset)
}

// GenerateStudentCode returns a 3 to 6 character code starting with a
// letter. Uniqueness is not checked.
func (s *Service) GenerateStudentCode() (string, error) {
	length, err := s.randomLength(StudentCodeMinLength, StudentCodeMaxLength)
	if err != nil {
		return "", err
	}

	code, err := s.GenerateSecureRandom(length, DefaultCharset)
	if err != nil {
		return "", err
	}

	return s.ReplaceLeadingDigit(code)
}

// ReplaceLeadingDigit swaps a leading digit for a random letter. The rest
// of the code is kept as is.
func (s *Service) ReplaceLeadingDigit(code string) (string, error) {
	if code == "" || code[0] < '0' || code[0] > '9' {
		return code, nil
	}

	letter, err := s.GenerateSecureRandom(1, LetterCharset)
	if err != nil {
		return "", err
	}

	return letter + code[1:], nil
}

func (s *Service) randomLength(min, max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min+1)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random data: %w", err)
	}
	return min + int(n.Int64()), nil
}
