package replication

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientReloginOn401(t *testing.T) {
	var logins, pushes atomic.Int64

	r := gin.New()
	r.POST("/api/auth/login", func(c *gin.Context) {
		n := logins.Add(1)
		c.JSON(http.StatusOK, gin.H{"token": fmt.Sprintf("token-%d", n)})
	})
	r.POST("/api/sync/push", func(c *gin.Context) {
		pushes.Add(1)
		// Only the second token is accepted; the first session has "expired".
		if c.GetHeader("Authorization") != "Bearer token-2" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "expired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"applied": 0})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(srv.URL, Credentials{Username: "u", Password: "p"})
	_, err := client.Push(context.Background(), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, logins.Load())
	assert.EqualValues(t, 2, pushes.Load())
}

func TestClientLoginFailure(t *testing.T) {
	r := gin.New()
	r.POST("/api/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(srv.URL, Credentials{Username: "u", Password: "wrong"})
	err := client.Login(context.Background())
	assert.Error(t, err)
}

func TestClientEndpointTrimmed(t *testing.T) {
	r := gin.New()
	r.POST("/api/auth/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": "tok"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(srv.URL+"/", Credentials{})
	require.NoError(t, client.Login(context.Background()))
}
