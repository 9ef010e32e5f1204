package speakerscmder

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
)

const transcriptCSV = `speaker,episode_id,text
Morty,1,Rick!
Rick,1,"Morty, shut up."
RICK,1,WUBBA LUBBA DUB DUB
Rick Sanchez,2,I'm Rick Sanchez.
Morty,2,Oh geez.
Rick,2,Whatever.
`

var _ = Describe("Speakers Command", func() {
	var (
		tmpDir     string
		configPath string
		stdout     *bytes.Buffer
	)

	writeConfig := func(aliases string) {
		csvPath := filepath.Join(tmpDir, "transcript.csv")
		Expect(os.WriteFile(csvPath, []byte(transcriptCSV), 0o644)).To(Succeed())
		config := "log_level: error\n" +
			"persona:\n  speaker: Rick\n  system_prompt: You are Rick.\n" + aliases +
			"source:\n  kind: csv\n  path: " + csvPath + "\n" +
			"cleaner:\n  kind: identity\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o644)).To(Succeed())
	}

	execute := func(args ...string) error {
		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewSpeakersCmd())
		root.SetOut(stdout)
		root.SetArgs(append([]string{"speakers", "--config", configPath}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "personaset-speakers-test-*")
		Expect(err).NotTo(HaveOccurred())
		configPath = filepath.Join(tmpDir, "personaset.yaml")
		stdout = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("lists persona-like labels and suggests aliases", func() {
		writeConfig("")

		Expect(execute()).To(Succeed())

		out := stdout.String()
		Expect(out).To(ContainSubstring("LABEL"))
		Expect(out).To(MatchRegexp(`Rick\s+2\s+exact`))
		Expect(out).To(MatchRegexp(`RICK\s+1\s+phonetic`))
		Expect(out).NotTo(ContainSubstring("Morty"))
		Expect(out).To(ContainSubstring("Suggested aliases:"))
		Expect(out).To(ContainSubstring("RICK: Rick"))
		Expect(out).To(ContainSubstring("Rick Sanchez: Rick"))
	})

	It("lists every label with --all", func() {
		writeConfig("")

		Expect(execute("--all")).To(Succeed())
		Expect(stdout.String()).To(MatchRegexp(`Morty\s+2\s+none`))
	})

	It("reports nothing to resolve once aliases are configured", func() {
		writeConfig("  aliases:\n    RICK: Rick\n    Rick Sanchez: Rick\n")

		Expect(execute()).To(Succeed())
		Expect(stdout.String()).To(ContainSubstring("No unresolved labels for Rick."))
	})
})
