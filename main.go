package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ttpcard/card"
	"ttpcard/crop"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("ttpcard"),
		kong.Description("Compose a TTP medical alert card from a photo."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve  serveCmd  `cmd:"" default:"withargs" help:"Run the card editor in the browser"`
	Render renderCmd `cmd:"" help:"Render a card PDF without the editor"`
}

func setupLogging(verbose bool) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
}

type serveCmd struct {
	Addr        string  `help:"Address to listen on" default:"localhost:0" env:"TTPCARD_ADDR"`
	Open        bool    `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	DPI         float64 `help:"Card raster resolution in dots per inch" default:"300" env:"TTPCARD_DPI"`
	MaxUploadMB int     `help:"Largest accepted photo upload in MiB" default:"25" name:"max-upload-mb"`
	NoQR        bool    `help:"Leave the family contact QR code off the card" name:"no-qr"`
	Verbose     bool    `help:"Enable verbose logging" default:"false"`
}

func (cmd *serveCmd) Run() error {
	setupLogging(cmd.Verbose)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	composer, err := card.NewComposer(cmd.DPI)
	if err != nil {
		return err
	}
	defer composer.Close()
	composer.ContactQR = !cmd.NoQR

	app := NewWebApp(Config{
		Addr:           cmd.Addr,
		MaxUploadBytes: cmd.MaxUploadMB << 20,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
	}, composer)

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type renderCmd struct {
	Photo   string  `help:"Photo to crop into the card" type:"existingfile"`
	Zoom    float64 `help:"Zoom factor between 1 and 1.5" default:"1"`
	PanX    float64 `help:"Horizontal pan as a fraction of the photo width" name:"pan-x"`
	PanY    float64 `help:"Vertical pan as a fraction of the photo height" name:"pan-y"`
	Name    string  `help:"Patient name" default:"Jan Kowalski"`
	Doctor  string  `help:"Consultant name" default:"Anna Nowak"`
	Phone   string  `help:"Consultant phone number" default:"+48 123 456 789"`
	Family  string  `help:"Family contact phone number" default:"+48 987 654 321"`
	Out     string  `help:"Output PDF path" default:"ttp-card.pdf" short:"o" type:"path"`
	Preview string  `help:"Also write the card as PNG to this path" type:"path"`
	DPI     float64 `help:"Card raster resolution in dots per inch" default:"300"`
	NoQR    bool    `help:"Leave the family contact QR code off the card" name:"no-qr"`
	Verbose bool    `help:"Enable verbose logging" default:"false"`
}

func (cmd *renderCmd) Run() error {
	setupLogging(cmd.Verbose)
	ctx := log.Logger.WithContext(context.Background())

	var photo *crop.Bitmap
	if cmd.Photo != "" {
		src, err := crop.LoadSourceFile(cmd.Photo)
		if err != nil {
			return err
		}
		s := crop.NewSession(src, crop.CardPhotoAspect)
		s.SetZoom(cmd.Zoom)
		rect := s.SetPan(crop.Point{X: cmd.PanX, Y: cmd.PanY})
		log.Ctx(ctx).Debug().
			Str("photo", cmd.Photo).
			Stringer("rect", rect).
			Msg("cropping photo")

		photo, err = s.Confirm(ctx, crop.NewRasterizer())
		if err != nil {
			return err
		}
	}

	composer, err := card.NewComposer(cmd.DPI)
	if err != nil {
		return err
	}
	defer composer.Close()
	composer.ContactQR = !cmd.NoQR

	fields := card.Fields{
		PatientName:     cmd.Name,
		ConsultantName:  cmd.Doctor,
		ConsultantPhone: cmd.Phone,
		FamilyPhone:     cmd.Family,
	}
	surface, err := renderSurface(composer, fields, photo)
	if err != nil {
		return err
	}

	if cmd.Preview != "" {
		if err := imaging.Save(surface, cmd.Preview); err != nil {
			return fmt.Errorf("failed to save preview: %w", err)
		}
	}

	f, err := os.Create(cmd.Out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", cmd.Out, err)
	}
	if err := card.ExportPDF(f, surface, pdfInfo(fields)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", cmd.Out, err)
	}

	log.Ctx(ctx).Info().Str("path", cmd.Out).Msg("Card written")
	return nil
}
