package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateImportsAcceptsAllowedPackage(t *testing.T) {
	err := validateImports(`package main

import "strings"

func OnNavigate(url string) {
	_ = strings.ToUpper(url)
}
`)
	require.NoError(t, err)
}

func TestValidateImportsRejectsDisallowedPackage(t *testing.T) {
	err := validateImports(`package main

import "os/exec"

func OnNavigate(url string) {
	_ = exec.Command("ls")
}
`)
	require.Error(t, err)
}

func TestLoadHooksResolvesOnlyDefinedHooks(t *testing.T) {
	hooks, err := loadHooks(`package main

func OnNavigate(url string) {}
`)
	require.NoError(t, err)
	require.NotNil(t, hooks.onNavigate)
	require.Nil(t, hooks.beforeCommand)
	require.Nil(t, hooks.afterCommand)
}

func TestLoadHooksRejectsDisallowedImportBeforeEvaluating(t *testing.T) {
	_, err := loadHooks(`package main

import "net"

func OnNavigate(url string) { _ = net.Dial }
`)
	require.Error(t, err)
}
