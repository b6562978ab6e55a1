package main

import (
	"fmt"
	"log"
	"os"

	"github.com/bodgit/wiidisc"
	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var fs = afero.NewOsFs()

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func progress(description string) func(int) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish())
	return func(percent int) {
		_ = bar.Set(percent)
	}
}

func extractISO(name, directory, partition string) error {
	ptype, err := wiidisc.ParsePartitionType(partition)
	if err != nil {
		return err
	}

	rc, err := wiidisc.OpenReader(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	d, err := wiidisc.NewIsoReader(rc)
	if err != nil {
		return err
	}

	if fi, err := fs.Stat(directory); err != nil || !fi.IsDir() {
		if err != nil {
			return err
		}
		return fmt.Errorf("%s is not a directory", directory)
	}

	for _, e := range d.Partitions() {
		if e.Type != ptype {
			continue
		}

		p, err := d.OpenPartition(e)
		if err != nil {
			return err
		}

		return p.Extract(directory)
	}

	return fmt.Errorf("no %s partition", ptype)
}

func buildISO(directory, name string) error {
	dst, err := fs.Create(name)
	if err != nil {
		return err
	}

	if err = wiidisc.BuildFromDirectory(directory, dst, progress("building")); err != nil {
		return multierror.Append(err, dst.Close())
	}

	return dst.Close()
}

func verifyISO(name string) error {
	rc, err := wiidisc.OpenReader(name)
	if err != nil {
		return err
	}
	defer rc.Close()

	d, err := wiidisc.NewIsoReader(rc)
	if err != nil {
		return err
	}

	for _, e := range d.Partitions() {
		p, err := d.OpenPartition(e)
		if err != nil {
			return err
		}
		if err = p.Verify(progress(fmt.Sprintf("verifying %s", e.Type))); err != nil {
			return err
		}
	}

	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "wiidisc"
	app.Usage = "Wii disc image utility"
	app.Version = fmt.Sprintf("%s, commit %s, built at %s", version, commit, date)

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Commands = []*cli.Command{
		{
			Name:        "extract",
			Usage:       "Extract a partition (the data partition by default) from a " + wiidisc.Extension + " file",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return extractISO(c.Args().First(), c.Path("directory"), c.String("partition"))
			},
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    "directory",
					Aliases: []string{"d"},
					Usage:   "extract to `DIRECTORY`",
					Value:   cwd,
				},
				&cli.StringFlag{
					Name:    "partition",
					Aliases: []string{"p"},
					Usage:   "extract the partition of `TYPE`",
					Value:   "data",
				},
			},
		},
		{
			Name:        "build",
			Usage:       "Build a " + wiidisc.Extension + " file from an extracted directory",
			Description: "",
			ArgsUsage:   "DIRECTORY FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return buildISO(c.Args().Get(0), c.Args().Get(1))
			},
		},
		{
			Name:        "copy",
			Usage:       "Rebuild a " + wiidisc.Extension + " file into a fresh image",
			Description: "",
			ArgsUsage:   "SRC DST",
			Action: func(c *cli.Context) error {
				if c.NArg() < 2 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return wiidisc.BuildCopy(c.Args().Get(0), c.Args().Get(1), progress("copying"))
			},
		},
		{
			Name:        "verify",
			Usage:       "Verify the hash tree of every partition in a " + wiidisc.Extension + " file",
			Description: "",
			ArgsUsage:   "FILE",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 {
					cli.ShowCommandHelpAndExit(c, c.Command.Name, 1)
				}

				return verifyISO(c.Args().First())
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
