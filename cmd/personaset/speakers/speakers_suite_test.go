package speakerscmder

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSpeakersCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Speakers Command Suite")
}
