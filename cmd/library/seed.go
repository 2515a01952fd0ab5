package main

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"library_service/pkg/catalog"
	"library_service/pkg/models"
)

type demoBook struct {
	book     catalog.BookInput
	barcodes []string
}

var demoBooks = []demoBook{
	{
		book: catalog.BookInput{
			Title:     "Краткий курс C++ в 7 томах",
			Author:    "Бьерн Страуструп",
			Genre:     "Научная фантастика",
			Publisher: "Addison-Wesley",
			ISBN:      "978-0-321-56384-2",
		},
		barcodes: []string{"DEMO-CPP-0001", "DEMO-CPP-0002"},
	},
	{
		book: catalog.BookInput{
			Title:     "The Go Programming Language",
			Author:    "Alan Donovan, Brian Kernighan",
			Genre:     "Programming",
			Publisher: "Addison-Wesley",
			ISBN:      "978-0-13-419044-0",
		},
		barcodes: []string{"DEMO-GOPL-0001", "DEMO-GOPL-0002", "DEMO-GOPL-0003"},
	},
	{
		book: catalog.BookInput{
			Title:     "Designing Data-Intensive Applications",
			Author:    "Martin Kleppmann",
			Genre:     "Computer Science",
			Publisher: "O'Reilly",
			ISBN:      "978-1-449-37332-0",
		},
		barcodes: []string{"DEMO-DDIA-0001"},
	},
}

// seedCatalog inserts the demo books and copies that are not there yet.
func seedCatalog(ctx context.Context, a *app) error {
	for _, demo := range demoBooks {
		var book models.Book
		err := a.db.WithContext(ctx).Where("isbn = ?", demo.book.ISBN).First(&book).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created, err := a.deps.Catalog.CreateBook(ctx, demo.book)
			if err != nil {
				return err
			}
			book = *created
		case err != nil:
			return errors.Wrapf(err, "look up book %s", demo.book.ISBN)
		default:
			a.log.Info("seed: book already present", "isbn", demo.book.ISBN)
		}

		for _, barcode := range demo.barcodes {
			var existing int64
			if err := a.db.WithContext(ctx).Model(&models.BookCopy{}).
				Where("barcode = ?", barcode).Count(&existing).Error; err != nil {
				return errors.Wrapf(err, "look up copy %s", barcode)
			}
			if existing > 0 {
				continue
			}
			if _, err := a.deps.Catalog.AddCopy(ctx, book.ID, barcode); err != nil {
				return err
			}
		}
	}
	return nil
}
