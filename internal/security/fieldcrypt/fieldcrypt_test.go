package fieldcrypt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	svc, err := New(key)
	require.NoError(t, err)

	for _, s := range []string{"", "hello", "straße", "a very long value that spans multiple AES blocks and then some"} {
		env, err := svc.Encrypt(s)
		require.NoError(t, err)
		require.Len(t, env.E, 2*len(s))
		require.NotEmpty(t, env.I)
		require.NotEmpty(t, env.A)

		got, err := svc.Decrypt(env)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	svc, err := New(key)
	require.NoError(t, err)

	env, err := svc.Encrypt("secret")
	require.NoError(t, err)
	env.E = env.E[:len(env.E)-2] + "00"

	_, err = svc.Decrypt(env)
	require.Error(t, err)
}

func TestKeyBackupRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	backup, err := EncryptKeyBackup(key, "correct horse battery staple")
	require.NoError(t, err)

	got, err := DecryptKeyBackup(backup, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, key, got)

	if wrong, err := DecryptKeyBackup(backup, "wrong passphrase"); err == nil {
		require.NotEqual(t, key, wrong)
	}
}

func TestNewRejectsWrongLength(t *testing.T) {
	_, err := New([]byte("too-short"))
	require.Error(t, err)
}
