package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"library_service/pkg/catalog"
	"library_service/pkg/models"
)

type bookRequest struct {
	Title     string `json:"title" binding:"required,max=255"`
	Author    string `json:"author" binding:"max=255"`
	Genre     string `json:"genre" binding:"max=80"`
	Publisher string `json:"publisher" binding:"max=255"`
	ISBN      string `json:"isbn" binding:"max=20"`
}

type copyRequest struct {
	Barcode string `json:"barcode" binding:"max=64"`
}

type copyStatusRequest struct {
	Status models.CopyStatus `json:"status" binding:"required"`
}

func (h *Handler) listBooks(c *gin.Context) {
	page, size := pageParams(c)
	books, total, err := h.Catalog.ListBooks(c.Request.Context(), c.Query("search"), page, size)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, pageBody(page, size, total, listJSON(books, bookJSON)))
}

func (h *Handler) createBook(c *gin.Context) {
	var req bookRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	book, err := h.Catalog.CreateBook(c.Request.Context(), catalog.BookInput{
		Title:     req.Title,
		Author:    req.Author,
		Genre:     req.Genre,
		Publisher: req.Publisher,
		ISBN:      req.ISBN,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, bookJSON(book))
}

func (h *Handler) getBook(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	book, err := h.Catalog.GetBook(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, bookJSON(book))
}

func (h *Handler) listCopies(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	copies, err := h.Catalog.ListCopies(c.Request.Context(), id, models.CopyStatus(c.Query("status")))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, listJSON(copies, copyJSON))
}

func (h *Handler) addCopy(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req copyRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	bookCopy, err := h.Catalog.AddCopy(c.Request.Context(), id, req.Barcode)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, copyJSON(bookCopy))
}

func (h *Handler) getCopy(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	bookCopy, err := h.Catalog.GetCopy(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, copyJSON(bookCopy))
}

func (h *Handler) updateCopyStatus(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		c.Error(err)
		return
	}
	var req copyStatusRequest
	if err := bindJSON(c, &req); err != nil {
		c.Error(err)
		return
	}
	bookCopy, err := h.Catalog.UpdateCopyStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, copyJSON(bookCopy))
}
