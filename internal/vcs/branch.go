package vcs

import (
	"fmt"
	"regexp"
	"strings"
)

// Review branches follow reviews/{packageId}/{username}. The pattern is the
// replication namespace: discovery ignores every ref that does not match.
var branchPattern = regexp.MustCompile(`^reviews/([^/]+)/([^/]+)$`)

// BranchName builds the replication branch name for a reviewer within a
// package. Components must not contain slashes.
func BranchName(packageID, username string) (string, error) {
	if strings.TrimSpace(packageID) == "" || strings.Contains(packageID, "/") {
		return "", fmt.Errorf("invalid package id %q for branch name", packageID)
	}
	if strings.TrimSpace(username) == "" || strings.Contains(username, "/") {
		return "", fmt.Errorf("invalid username %q for branch name", username)
	}
	return fmt.Sprintf("reviews/%s/%s", packageID, username), nil
}

// ParseBranchName splits a review branch name into its package id and
// username. Any other branch shape is rejected.
func ParseBranchName(name string) (packageID, username string, ok bool) {
	match := branchPattern.FindStringSubmatch(name)
	if match == nil {
		return "", "", false
	}
	return match[1], match[2], true
}
