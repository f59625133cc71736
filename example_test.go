package aerokit_test

import (
	"context"
	"fmt"
	"log"

	"github.com/pay-theory/aerokit"
	"github.com/pay-theory/aerokit/pkg/core"
	"github.com/pay-theory/aerokit/pkg/exp"
	"github.com/pay-theory/aerokit/pkg/logging"
	"github.com/pay-theory/aerokit/pkg/memcluster"
	"github.com/pay-theory/aerokit/pkg/query"
	"github.com/pay-theory/aerokit/pkg/types"
)

func Example() {
	ctx := context.Background()
	cluster := memcluster.New(memcluster.Options{Logger: logging.Discard()})
	client, err := aerokit.New(nil, aerokit.WithTransport(cluster), aerokit.WithLogger(logging.Discard()))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if err := cluster.CreateIndex("test", "users", "age", core.IndexDefault, types.IntType); err != nil {
		log.Fatal(err)
	}
	for i, name := range []string{"ann", "ben", "cal"} {
		key, _ := types.NewKey("test", "users", name)
		err := client.Put(ctx, nil, key, types.BinMap{
			"name":   types.StringValue(name),
			"age":    types.IntValue(int64(20 + i*10)),
			"status": types.StringValue("active"),
		})
		if err != nil {
			log.Fatal(err)
		}
	}

	recs, err := client.Query("test", "users").
		Where(query.Between("age", 25, 60)).
		Filter(exp.EQ(exp.StringBin("status"), exp.StringVal("active"))).
		Select("name").
		Results(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(len(recs))
	// Output: 2
}

func ExampleAsyncClient_Get() {
	ctx := context.Background()
	cluster := memcluster.New(memcluster.Options{Logger: logging.Discard()})
	client, err := aerokit.New(nil, aerokit.WithTransport(cluster), aerokit.WithLogger(logging.Discard()))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	key, _ := types.NewKey("test", "users", "ann")
	if err := client.Put(ctx, nil, key, types.BinMap{"name": types.StringValue("ann")}); err != nil {
		log.Fatal(err)
	}

	future := client.Async().Get(ctx, nil, key)
	rec, err := future.Await(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rec.Bin("name").AsString())
	// Output: ann
}
