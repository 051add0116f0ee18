package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/scribe/internal/library"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

func newPageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Read and write pages of the store",
	}
	cmd.AddCommand(newPagePutCmd(a), newPageGetCmd(a))
	return cmd
}

func newPagePutCmd(a *app) *cobra.Command {
	var contentModel string
	cmd := &cobra.Command{
		Use:   "put TITLE [FILE]",
		Short: "Create or replace a page from FILE or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, ok := library.NormalizeTitle(args[0])
			if !ok {
				return fmt.Errorf("invalid title %q", args[0])
			}
			var (
				text []byte
				err  error
			)
			if len(args) == 2 {
				text, err = os.ReadFile(args[1])
			} else {
				text, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read page text: %w", err)
			}

			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			page := &model.Page{Title: title, ContentModel: contentModel, Text: string(text)}
			if page.ContentModel == "" {
				page.ContentModel = model.ContentModelFor(title)
			}
			if page.ContentModel == model.ContentModelScribunto {
				msg, ok, err := a.validate(db, title, page.Text)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New(msg)
				}
			}
			if err := db.PutPage(cmd.Context(), page); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s, %s)\n", page.Title, page.ContentModel, page.Identity[:12])
			return nil
		},
	}
	cmd.Flags().StringVar(&contentModel, "content-model", "", "content model (default: from the title)")
	return cmd
}

func newPageGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get TITLE",
		Short: "Print the text of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title, ok := library.NormalizeTitle(args[0])
			if !ok {
				return fmt.Errorf("invalid title %q", args[0])
			}
			db, err := a.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			page, err := db.GetPage(cmd.Context(), title)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("page %s does not exist", title)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), page.Text)
			return nil
		},
	}
}
