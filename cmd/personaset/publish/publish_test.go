package publishcmder

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

var _ = Describe("Publish Command", func() {
	var (
		tmpDir     string
		inPath     string
		outPath    string
		configPath string
		stdout     *bytes.Buffer
	)

	records := dataset.Dataset{
		dataset.NewRecord("You are Rick.", "Rick!", "Morty, shut up."),
		dataset.NewRecord("You are Rick.", "Rick!", "Morty, shut up."),
	}

	execute := func(args ...string) error {
		root := &cobra.Command{Use: "personaset", SilenceUsage: true, SilenceErrors: true}
		cliutil.AddConfigFlag(root)
		root.AddCommand(NewPublishCmd())
		root.SetOut(stdout)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(append([]string{"publish", "--config", configPath}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "personaset-publish-test-*")
		Expect(err).NotTo(HaveOccurred())

		inPath = filepath.Join(tmpDir, "in.jsonl")
		outPath = filepath.Join(tmpDir, "published.jsonl")
		configPath = filepath.Join(tmpDir, "personaset.yaml")
		config := "log_level: error\n" +
			"source:\n  kind: csv\n  path: unused.csv\n" +
			"cleaner:\n  kind: identity\n" +
			"publish:\n  jsonl:\n    path: " + outPath + "\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o644)).To(Succeed())

		stdout = &bytes.Buffer{}
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	writeInput := func(key string) {
		f, err := os.Create(inPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(dataset.WriteJSONL(f, key, records)).To(Succeed())
		Expect(f.Close()).To(Succeed())
	}

	readOutput := func() dataset.Dataset {
		f, err := os.Open(outPath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		d, err := dataset.ReadJSONL(f, dataset.KeyConversations)
		Expect(err).NotTo(HaveOccurred())
		return d
	}

	It("publishes a cleaned dataset file unchanged", func() {
		writeInput(dataset.KeyConversations)

		Expect(execute(inPath)).To(Succeed())

		Expect(readOutput()).To(Equal(records))
		Expect(stdout.String()).To(ContainSubstring("Published 2 records from " + inPath + " to 1 sinks"))
	})

	It("reads records under another key", func() {
		writeInput(dataset.KeyConversationsRaw)

		Expect(execute("--key", dataset.KeyConversationsRaw, inPath)).To(Succeed())
		Expect(readOutput()).To(HaveLen(2))
	})

	It("fails on a missing input file", func() {
		Expect(execute(filepath.Join(tmpDir, "missing.jsonl"))).NotTo(Succeed())
		Expect(outPath).NotTo(BeAnExistingFile())
	})

	It("requires exactly one argument", func() {
		Expect(execute()).NotTo(Succeed())
	})
})
