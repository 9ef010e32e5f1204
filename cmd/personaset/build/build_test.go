package buildcmder

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/MrWong99/personaset/cmd/personaset/cliutil"
	"github.com/MrWong99/personaset/pkg/dataset"
)

const transcriptCSV = `speaker,episode_id,text
Morty,1,"  stumbles in. Rick! "
Rick,1,"Morty, shut up."
Summer,1,Ugh.
Jerry,2,"sighs. Honey, where's the remote?"
Rick,2,"shrugs. I don't know."
`

var _ = Describe("Build Command", func() {
	var (
		tmpDir  string
		outPath string
		stdout  *bytes.Buffer
	)

	execute := func(cleaner string, args ...string) error {
		csvPath := filepath.Join(tmpDir, "transcript.csv")
		Expect(os.WriteFile(csvPath, []byte(transcriptCSV), 0o644)).To(Succeed())

		configPath := filepath.Join(tmpDir, "personaset.yaml")
		config := "log_level: error\n" +
			"persona:\n  speaker: Rick\n  system_prompt: You are Rick.\n" +
			"source:\n  kind: csv\n  path: " + csvPath + "\n" +
			"cleaner:\n" + cleaner +
			"publish:\n  jsonl:\n    path: " + outPath + "\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o644)).To(Succeed())

		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewBuildCmd())
		root.SetOut(stdout)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"build", "--config", configPath}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "personaset-build-test-*")
		Expect(err).NotTo(HaveOccurred())
		outPath = filepath.Join(tmpDir, "out", "rick.jsonl")
		stdout = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("pairs, cleans and publishes to the jsonl sink", func() {
		Expect(execute("  kind: pattern\n")).To(Succeed())

		f, err := os.Open(outPath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		d, err := dataset.ReadJSONL(f, dataset.KeyConversations)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(dataset.Dataset{
			dataset.NewRecord("You are Rick.", "Rick!", "Morty, shut up."),
			dataset.NewRecord("You are Rick.", "Honey, where's the remote?", "I don't know."),
		}))

		Expect(stdout.String()).To(ContainSubstring("Paired 2 records (0 malformed lines skipped)"))
		Expect(stdout.String()).To(ContainSubstring("Published 2 records (0 failed cleaning) to:"))
		Expect(stdout.String()).To(ContainSubstring("  - jsonl"))
	})

	It("keeps text unchanged with the identity cleaner", func() {
		Expect(execute("  kind: identity\n")).To(Succeed())

		f, err := os.Open(outPath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		d, err := dataset.ReadJSONL(f, dataset.KeyConversations)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(HaveLen(2))
		Expect(d[0].Human()).To(Equal("stumbles in. Rick!"))
		Expect(d[1].Assistant()).To(Equal("shrugs. I don't know."))
	})

	It("fails without a configured sink", func() {
		csvPath := filepath.Join(tmpDir, "transcript.csv")
		Expect(os.WriteFile(csvPath, []byte(transcriptCSV), 0o644)).To(Succeed())
		configPath := filepath.Join(tmpDir, "nosink.yaml")
		config := "log_level: error\n" +
			"source:\n  kind: csv\n  path: " + csvPath + "\n" +
			"cleaner:\n  kind: identity\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o644)).To(Succeed())

		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewBuildCmd())
		root.SetOut(stdout)
		root.SetArgs([]string{"build", "--config", configPath})
		Expect(root.Execute()).NotTo(Succeed())
	})
})
