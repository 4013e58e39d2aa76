package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakSecretScoreThreshold = 3

// IsWeakSecret returns whether the link-signing secret is considered too
// weak to resist offline forgery attempts.
func IsWeakSecret(secret string) bool {
	if secret == "" {
		return true
	}
	result := zxcvbn.PasswordStrength(secret, nil)
	return result.Score < weakSecretScoreThreshold
}
