package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agency-ops/internal/models"
)

const secret = "test-secret"

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier(secret, "access_token")
	raw, err := Sign(secret, Caller{ID: "v-1", Role: models.ActorVendor}, time.Minute)
	require.NoError(t, err)

	c, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, Caller{ID: "v-1", Role: models.ActorVendor}, c)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier(secret, "access_token")

	expired, err := Sign(secret, Caller{ID: "a-1", Role: models.ActorAdmin}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey, err := Sign("other", Caller{ID: "a-1", Role: models.ActorAdmin}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(wrongKey)
	assert.ErrorIs(t, err, ErrInvalidToken)

	badRole, err := Sign(secret, Caller{ID: "a-1", Role: "auditor"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(badRole)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Role: models.ActorAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Subject: "a-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequest(t *testing.T) {
	v := NewVerifier(secret, "access_token")
	raw, err := Sign(secret, Caller{ID: "a-1", Role: models.ActorAdmin}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = v.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.AddCookie(&http.Cookie{Name: "access_token", Value: raw})
	c, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "a-1", c.ID)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	c, err = v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, models.ActorAdmin, c.Role)

	r.Header.Set("Authorization", "Basic abc")
	_, err = v.FromRequest(r)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
