package authorization

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mojocn/base64Captcha"
)

const (
	captchaDigits   = 5
	captchaCapacity = 2048
	defaultCaptcha  = 3 * time.Minute
)

var errCaptchaDisabled = errors.New("authorization: captcha disabled")

// CaptchaChallenge is a digit image a visitor must solve before signing up.
type CaptchaChallenge struct {
	ID          string
	ImageBase64 string
	ExpiresAt   time.Time
}

// CaptchaStore issues sign-up challenges and accepts each answer once.
// The backing memory store is synchronized, so no extra locking is needed.
type CaptchaStore struct {
	captcha *base64Captcha.Captcha
	store   base64Captcha.Store
	ttl     time.Duration
}

func NewCaptchaStore(ttl time.Duration) *CaptchaStore {
	if ttl <= 0 {
		ttl = defaultCaptcha
	}
	store := base64Captcha.NewMemoryStore(captchaCapacity, ttl)
	driver := base64Captcha.NewDriverDigit(60, 160, captchaDigits, 0.7, 80)
	return &CaptchaStore{
		captcha: base64Captcha.NewCaptcha(driver, store),
		store:   store,
		ttl:     ttl,
	}
}

func (s *CaptchaStore) Issue() (CaptchaChallenge, error) {
	if s == nil {
		return CaptchaChallenge{}, errCaptchaDisabled
	}
	id, image, _, err := s.captcha.Generate()
	if err != nil {
		return CaptchaChallenge{}, fmt.Errorf("authorization: generate captcha: %w", err)
	}
	return CaptchaChallenge{ID: id, ImageBase64: pngDataURI(image), ExpiresAt: time.Now().Add(s.ttl)}, nil
}

// Verify consumes the challenge whatever the outcome. A nil store accepts everything.
func (s *CaptchaStore) Verify(id, answer string) bool {
	if s == nil {
		return true
	}
	id, answer = strings.TrimSpace(id), strings.TrimSpace(answer)
	if id == "" || answer == "" {
		return false
	}
	return s.store.Verify(id, answer, true)
}

func pngDataURI(image string) string {
	image = strings.TrimSpace(image)
	if image == "" || strings.HasPrefix(image, "data:") {
		return image
	}
	return "data:image/png;base64," + image
}
