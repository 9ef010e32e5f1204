package buildcmder

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBuildCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Build Command Suite")
}
