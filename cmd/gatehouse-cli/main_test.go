package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/gatehouse/pkg/authtest"
	"git.sr.ht/~jakintosh/gatehouse/pkg/client"
)

func TestRun_LoginPersistsAcrossInvocations(t *testing.T) {
	api, err := authtest.New(authtest.Options{})
	require.NoError(t, err)
	_, err = api.AddUser("ada@example.com", "correct horse", "Ada")
	require.NoError(t, err)
	srv := api.Start(t)

	log := logrus.New()
	log.SetOutput(io.Discard)
	opts := options{
		apiURL:   srv.URL,
		dbPath:   filepath.Join(t.TempDir(), "cli", "tokens.sqlite"),
		email:    "ada@example.com",
		password: "correct horse",
	}
	ctx := context.Background()

	invoke := func(command string) (*bytes.Buffer, error) {
		var out bytes.Buffer
		err := run(ctx, opts, []string{command}, log, &out)
		return &out, err
	}

	_, err = invoke("me")
	assert.True(t, client.IsUnauthorized(err))

	_, err = invoke("login")
	require.NoError(t, err)

	// a later process finds the stored tokens and refreshes as needed
	api.RevokeAccessTokens()
	out, err := invoke("me")
	require.NoError(t, err)
	var user client.User
	require.NoError(t, json.Unmarshal(out.Bytes(), &user))
	assert.Equal(t, "Ada", user.Name)
	assert.Equal(t, 1, api.RefreshCalls())

	out, err = invoke("projects")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Default project")

	_, err = invoke("logout")
	require.NoError(t, err)
	_, err = invoke("me")
	assert.True(t, client.IsUnauthorized(err))
}

func TestRun_BadUsage(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	opts := options{apiURL: "http://127.0.0.1:1", dbPath: filepath.Join(t.TempDir(), "tokens.sqlite")}

	assert.Error(t, run(context.Background(), opts, nil, log, io.Discard))
	assert.Error(t, run(context.Background(), opts, []string{"dance"}, log, io.Discard))

	opts.apiURL = ""
	assert.Error(t, run(context.Background(), opts, []string{"me"}, log, io.Discard))
}
