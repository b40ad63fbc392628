package main

import (
	"fmt"
	"os"

	"flatfs"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Config carries the defaults every command shares; flags override it.
type Config struct {
	Image  string `envconfig:"IMAGE" default:"./device.bin"`
	Blocks int    `envconfig:"BLOCKS" default:"2048"`
	Inodes int    `envconfig:"INODES" default:"64"`
}

func init() {
	stdFormatter := &log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	}
	log.SetFormatter(stdFormatter)
	log.SetLevel(log.InfoLevel)
}

func main() {
	var cfg Config
	if err := envconfig.Process("flatfs", &cfg); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "flatfs",
		Usage: "single-level block file system on a device image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "image",
				Aliases: []string{"i"},
				Usage:   "device image file",
				Value:   cfg.Image,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "print debug data",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				log.SetLevel(log.DebugLevel)
				log.Warn("Debug mode enabled")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "mkfs",
				Usage: "create and format a device image",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "blocks", Value: cfg.Blocks, Usage: "total block count"},
					&cli.IntFlag{Name: "inodes", Value: cfg.Inodes, Usage: "file capacity"},
				},
				Action: func(c *cli.Context) error {
					dev, err := flatfs.NewFileBlockDevice(c.String("image"), c.Int("blocks"))
					if err != nil {
						return err
					}
					defer dev.Close()
					fs, err := flatfs.NewFileSystem(dev)
					if err != nil {
						return err
					}
					if err := fs.Format(c.Int("inodes")); err != nil {
						return err
					}
					log.Infof("formatted %s: %d blocks, %d inodes", c.String("image"), c.Int("blocks"), c.Int("inodes"))
					return fs.Sync()
				},
			},
			{
				Name:      "mount",
				Usage:     "mount the image over FUSE",
				ArgsUsage: "MOUNTPOINT",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return cli.Exit("Usage:\n\tflatfs mount MOUNTPOINT", 1)
					}
					fs, dev, err := openImage(c.String("image"))
					if err != nil {
						return err
					}
					defer dev.Close()
					server, err := fuse.NewServer(flatfs.NewFuseFS(fs), c.Args().Get(0), &fuse.MountOptions{
						FsName: "flatfs",
						Debug:  c.Bool("debug"),
					})
					if err != nil {
						return err
					}
					log.Infof("mounted %s at %s", c.String("image"), c.Args().Get(0))
					server.Serve()
					return fs.Sync()
				},
			},
			{
				Name:  "ls",
				Usage: "list files",
				Action: func(c *cli.Context) error {
					fs, dev, err := openImage(c.String("image"))
					if err != nil {
						return err
					}
					defer dev.Close()
					for _, ent := range fs.List() {
						entry, err := fs.Open(ent.Name, flatfs.ModeRead)
						if err != nil {
							return err
						}
						size, err := fs.Size(entry)
						if err != nil {
							return err
						}
						if err := fs.Close(entry); err != nil {
							return err
						}
						fmt.Printf("%3d %8d %s\n", ent.Inum, size, ent.Name)
					}
					return nil
				},
			},
			{
				Name:      "cat",
				Usage:     "print a file's content",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					fs, dev, err := openImage(c.String("image"))
					if err != nil {
						return err
					}
					defer dev.Close()
					entry, err := fs.Open(c.Args().Get(0), flatfs.ModeRead)
					if err != nil {
						return err
					}
					defer fs.Close(entry)
					size, err := fs.Size(entry)
					if err != nil {
						return err
					}
					data := make([]byte, size)
					n, err := fs.Read(entry, data)
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data[:n])
					return err
				},
			},
			{
				Name:      "put",
				Usage:     "copy a local file into the image",
				ArgsUsage: "LOCALFILE [NAME]",
				Action: func(c *cli.Context) error {
					local := c.Args().Get(0)
					name := c.Args().Get(1)
					if name == "" {
						name = local
					}
					data, err := os.ReadFile(local)
					if err != nil {
						return err
					}
					fs, dev, err := openImage(c.String("image"))
					if err != nil {
						return err
					}
					defer dev.Close()
					entry, err := fs.Open(name, flatfs.ModeWrite)
					if err != nil {
						return err
					}
					n, err := fs.Write(entry, data)
					if err != nil {
						fs.Close(entry)
						return err
					}
					if err := fs.Close(entry); err != nil {
						return err
					}
					log.Infof("wrote %d bytes to %s", n, name)
					return fs.Sync()
				},
			},
			{
				Name:      "rm",
				Usage:     "delete a file",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					fs, dev, err := openImage(c.String("image"))
					if err != nil {
						return err
					}
					defer dev.Close()
					if _, ok := fs.Lookup(c.Args().Get(0)); !ok {
						return cli.Exit("no such file", 1)
					}
					if err := fs.Delete(c.Args().Get(0)); err != nil {
						return err
					}
					return fs.Sync()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openImage(path string) (*flatfs.FileSystem, *flatfs.FileBlockDevice, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	dev, err := flatfs.NewFileBlockDevice(path, int(fi.Size())/flatfs.BlockSize)
	if err != nil {
		return nil, nil, err
	}
	fs, err := flatfs.NewFileSystem(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fs, dev, nil
}
