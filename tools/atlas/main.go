// atlas 將 gorm 模型轉成指定方言的 DDL，供 atlas.hcl 的 external_schema 使用
package main

import (
	flag "github.com/spf13/pflag"
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"

	"mandi/models"
)

func main() {
	dialect := flag.String("dialect", "postgres", "postgres, mysql or sqlite")
	flag.Parse()

	stmts, err := gormschema.New(*dialect).Load(models.All()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
